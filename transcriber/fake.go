package transcriber

import "context"

type FakeTranscriber struct {
	Text  string
	Err   error
	Calls []string // audio paths seen
}

func (f *FakeTranscriber) Name() string { return "fake" }

func (f *FakeTranscriber) Transcribe(_ context.Context, audioPath string) (string, error) {
	f.Calls = append(f.Calls, audioPath)
	return f.Text, f.Err
}

type FakeSummarizer struct {
	Text  string
	Err   error
	Calls []string // transcripts seen
}

func (f *FakeSummarizer) Name() string { return "fake" }

func (f *FakeSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	f.Calls = append(f.Calls, transcript)
	return f.Text, f.Err
}
