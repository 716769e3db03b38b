package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

const deepgramBaseURL = "https://api.deepgram.com"

type Deepgram struct {
	apiKey  string
	baseURL string
	client  *resty.Client
}

func NewDeepgram(apiKey string) *Deepgram {
	return &Deepgram{
		apiKey:  apiKey,
		baseURL: deepgramBaseURL,
		client:  resty.New().SetTimeout(5 * time.Minute),
	}
}

func (d *Deepgram) Name() string { return "deepgram" }

// SetBaseURL points the client at a different endpoint. Tests use it.
func (d *Deepgram) SetBaseURL(u string) { d.baseURL = u }

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (d *Deepgram) Transcribe(ctx context.Context, audioPath string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", err
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Token "+d.apiKey).
		SetHeader("Content-Type", "audio/wav").
		SetQueryParams(map[string]string{
			"model":        "nova-3",
			"smart_format": "true",
		}).
		SetBody(audio).
		Post(d.baseURL + "/v1/listen")
	if err != nil {
		return "", fmt.Errorf("deepgram request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("deepgram API error %d: %s", resp.StatusCode(), resp.String())
	}

	var dgResp deepgramResponse
	if err := json.Unmarshal(resp.Body(), &dgResp); err != nil {
		return "", fmt.Errorf("deepgram response parse error: %w", err)
	}
	if len(dgResp.Results.Channels) == 0 || len(dgResp.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return dgResp.Results.Channels[0].Alternatives[0].Transcript, nil
}
