package generate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/xeipuuv/gojsonschema"

	"github.com/evanwires/sidekick/internal/logging"
	"github.com/evanwires/sidekick/internal/model"
)

// candidateDTO is the wire shape of one LLM-proposed task.
type candidateDTO struct {
	Description    string   `mapstructure:"description"`
	FromSeq        uint64   `mapstructure:"from_seq"`
	ToSeq          uint64   `mapstructure:"to_seq"`
	Category       string   `mapstructure:"category"`
	Urgency        string   `mapstructure:"urgency"`
	Kind           string   `mapstructure:"kind"`
	CustomerName   string   `mapstructure:"customer_name"`
	OrderRef       string   `mapstructure:"order_ref"`
	Plan           []string `mapstructure:"plan"`
	SuggestedReply string   `mapstructure:"suggested_reply"`
}

// decodeCandidates validates raw LLM output against the candidate schema
// and converts it to typed candidates. A malformed payload fails the whole
// call (GenerationRejected); an individually invalid candidate is dropped
// and the rest survive. Untyped data never crosses this boundary.
func decodeCandidates(raw []byte, fallback model.SourceSpan) ([]model.CandidateTask, error) {
	payload, ok := extractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("%w: output contains no JSON object", model.ErrGenerationRejected)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(envelopeSchema),
		gojsonschema.NewBytesLoader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrGenerationRejected, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", model.ErrGenerationRejected, result.Errors()[0].String())
	}

	var envelope struct {
		Tasks []map[string]any `json:"tasks"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrGenerationRejected, err)
	}

	log := logging.Component("generate")
	out := make([]model.CandidateTask, 0, len(envelope.Tasks))
	for _, entry := range envelope.Tasks {
		var dto candidateDTO
		if err := mapstructure.Decode(entry, &dto); err != nil {
			log.Warn().Err(err).Msg("candidate dropped at boundary")
			continue
		}
		c := model.CandidateTask{
			Description:    dto.Description,
			Span:           model.SourceSpan{FromSeq: dto.FromSeq, ToSeq: dto.ToSeq},
			Category:       dto.Category,
			Urgency:        dto.Urgency,
			Kind:           dto.Kind,
			CustomerName:   dto.CustomerName,
			OrderRef:       dto.OrderRef,
			Plan:           dto.Plan,
			SuggestedReply: dto.SuggestedReply,
		}
		if !c.Span.Valid() {
			c.Span = fallback
		}
		if err := c.Validate(); err != nil {
			log.Warn().Err(err).Str("description", c.Description).
				Msg("candidate dropped at boundary")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// extractJSON strips markdown fences and trims to the outermost JSON
// object, tolerating chatter around the payload.
func extractJSON(raw []byte) ([]byte, bool) {
	s := bytes.TrimSpace(raw)
	if fenced, ok := bytes.CutPrefix(s, []byte("```json")); ok {
		s = fenced
	} else if fenced, ok := bytes.CutPrefix(s, []byte("```")); ok {
		s = fenced
	}
	if trimmed, ok := bytes.CutSuffix(bytes.TrimSpace(s), []byte("```")); ok {
		s = trimmed
	}
	start := bytes.IndexByte(s, '{')
	end := bytes.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return s[start : end+1], true
}
