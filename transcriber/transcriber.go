// Package transcriber enriches finalized recordings: speech-to-text
// on the audio file and an LLM summary of the transcript. Both run
// after finalize and never block capture; a failure here leaves the
// recording intact with the enrichment columns empty.
package transcriber

import "context"

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, transcript string) (string, error)
}
