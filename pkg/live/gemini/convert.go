package gemini

import (
	"google.golang.org/genai"

	"github.com/vango-go/soporte-live/pkg/live/protocol"
)

// toInbound flattens a server message. Every inline audio part of the model
// turn is kept, in order.
func toInbound(msg *genai.LiveServerMessage) protocol.Inbound {
	var in protocol.Inbound
	if msg == nil {
		return in
	}
	in.SetupComplete = msg.SetupComplete != nil

	if sc := msg.ServerContent; sc != nil {
		in.Interrupted = sc.Interrupted
		in.TurnComplete = sc.TurnComplete
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				in.Audio = append(in.Audio, protocol.AudioChunk{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				})
			}
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			in.ToolCalls = append(in.ToolCalls, protocol.ToolCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
	}
	return in
}

func toFunctionResponses(resps []protocol.ToolResponse) []*genai.FunctionResponse {
	out := make([]*genai.FunctionResponse, 0, len(resps))
	for _, r := range resps {
		out = append(out, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: r.Response,
		})
	}
	return out
}
