package protocol

import "testing"

func TestSampleRate(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		want     int
		wantErr  bool
	}{
		{name: "empty uses fallback", mimeType: "", want: 24000},
		{name: "input", mimeType: MIMEAudioInput, want: 16000},
		{name: "output", mimeType: "audio/pcm;rate=24000", want: 24000},
		{name: "no rate", mimeType: "audio/pcm", want: 24000},
		{name: "l16", mimeType: "audio/L16; rate=8000", want: 8000},
		{name: "not pcm", mimeType: "audio/mpeg", wantErr: true},
		{name: "bad rate", mimeType: "audio/pcm;rate=fast", wantErr: true},
		{name: "malformed", mimeType: "audio/pcm/x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SampleRate(tt.mimeType, 24000)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got rate %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("rate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestInboundEmpty(t *testing.T) {
	if !(Inbound{}).Empty() {
		t.Fatalf("zero Inbound should be empty")
	}
	if (Inbound{ToolCalls: []ToolCall{{ID: "1"}}}).Empty() {
		t.Fatalf("Inbound with tool calls is not empty")
	}
	if (Inbound{Interrupted: true}).Empty() {
		t.Fatalf("interrupted Inbound is not empty")
	}
}
