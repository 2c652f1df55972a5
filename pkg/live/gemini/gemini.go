// Package gemini connects sessions to the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/soporte-live/pkg/live/protocol"
	"github.com/vango-go/soporte-live/pkg/live/session"
	"github.com/vango-go/soporte-live/pkg/live/tools"
)

const (
	DefaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultCompany = "Sistemas Modulares de Computación SpA"
)

type Config struct {
	Model string
	// Voice is a prebuilt voice name; empty keeps the service default.
	Voice       string
	Company     string
	Sender      string
	Instruction *Instruction
	Logger      *slog.Logger
}

// liveSession is the part of *genai.Session a connection uses.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

// Dialer opens Gemini Live sessions.
type Dialer struct {
	cfg     Config
	logger  *slog.Logger
	connect func(ctx context.Context, apiKey, model string, cfg *genai.LiveConnectConfig) (liveSession, error)
}

func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Company == "" {
		cfg.Company = DefaultCompany
	}
	if cfg.Sender == "" {
		cfg.Sender = tools.DefaultSender
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Instruction == nil {
		ins, err := ParseInstruction("")
		if err != nil {
			return nil, err
		}
		cfg.Instruction = ins
	}
	return &Dialer{cfg: cfg, logger: cfg.Logger, connect: connectLive}, nil
}

func connectLive(ctx context.Context, apiKey, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	live, err := client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, err
	}
	return live, nil
}

// ConnectConfig builds the setup sent for a session of identity.
func (d *Dialer) ConnectConfig(identity string) (*genai.LiveConnectConfig, error) {
	text, err := d.cfg.Instruction.Render(InstructionData{
		Company:  d.cfg.Company,
		Identity: identity,
		Sender:   d.cfg.Sender,
	})
	if err != nil {
		return nil, fmt.Errorf("render system instruction: %w", err)
	}

	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: text}},
		},
		Tools: []*genai.Tool{{FunctionDeclarations: tools.Declarations()}},
	}
	if d.cfg.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: d.cfg.Voice},
			},
		}
	}
	return cfg, nil
}

// Dial implements session.Dialer.
func (d *Dialer) Dial(ctx context.Context, req session.DialRequest) (session.Conn, error) {
	cfg, err := d.ConnectConfig(req.Identity)
	if err != nil {
		return nil, err
	}
	live, err := d.connect(ctx, req.APIKey, d.cfg.Model, cfg)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("gemini live connected", "session_id", req.SessionID, "model", d.cfg.Model)
	return &conn{live: live, logger: d.logger.With("session_id", req.SessionID)}, nil
}

type conn struct {
	live   liveSession
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (c *conn) Send(ctx context.Context, out protocol.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if out.IsAudio() {
		return c.live.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{MIMEType: out.Audio.MIMEType, Data: out.Audio.Data},
		})
	}
	if len(out.ToolResponses) == 0 {
		return nil
	}
	return c.live.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: toFunctionResponses(out.ToolResponses),
	})
}

// Receive returns the next message. A normal close by the service is
// reported as io.EOF.
func (c *conn) Receive() (protocol.Inbound, error) {
	for {
		msg, err := c.live.Receive()
		if err != nil {
			if isNormalClose(err) {
				return protocol.Inbound{}, io.EOF
			}
			return protocol.Inbound{}, err
		}
		if msg.GoAway != nil {
			c.logger.Info("gemini live going away")
		}
		in := toInbound(msg)
		if in.Empty() {
			continue
		}
		return in, nil
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.live.Close()
	})
	return c.closeErr
}

func isNormalClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
	}
	return false
}
