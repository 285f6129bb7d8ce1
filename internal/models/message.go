// internal/models/message.go
package models

// RawRow is one record of the input log, fields in file order.
type RawRow []string

// Classification is the purpose tag the matching service assigns to a message.
type Classification string

const (
	ClassificationAdvertisement Classification = "advertisement"
	ClassificationTransaction   Classification = "transaction"
	ClassificationService       Classification = "service"
)

// ParsePurpose maps a template_purpose value to a Classification. Matching is
// case-sensitive and anything unrecognised is an advertisement.
func ParsePurpose(purpose string) Classification {
	switch purpose {
	case "transaction":
		return ClassificationTransaction
	case "service":
		return ClassificationService
	default:
		return ClassificationAdvertisement
	}
}

type Message struct {
	ReceivedAt       string `json:"receivedAt"`
	Sender           string `json:"sender"`
	RecipientAddress string `json:"recipientAddress"`
	Body             string `json:"body"`

	Classification Classification `json:"classification"`
	TemplateID     *int64         `json:"templateId,omitempty"`
	Weight         *int64         `json:"weight,omitempty"`
}

// NewMessage returns an unclassified message.
func NewMessage(receivedAt, sender, recipientAddress, body string) *Message {
	return &Message{
		ReceivedAt:       receivedAt,
		Sender:           sender,
		RecipientAddress: recipientAddress,
		Body:             body,
		Classification:   ClassificationAdvertisement,
	}
}

// Matched reports whether the service returned a template id for the message.
func (m *Message) Matched() bool {
	return m.TemplateID != nil
}

// Apply copies a classification result onto the message.
func (m *Message) Apply(r ClassificationResult) {
	m.Classification = r.Classification
	m.TemplateID = r.TemplateID
	m.Weight = r.Weight
}

// ClassificationResult is the service's verdict for the message at the same
// position in the request.
type ClassificationResult struct {
	Classification Classification `json:"classification"`
	TemplateID     *int64         `json:"templateId,omitempty"`
	Weight         *int64         `json:"weight,omitempty"`
}

// Unmatched is the result given to messages the service returned nothing for.
func Unmatched() ClassificationResult {
	return ClassificationResult{Classification: ClassificationAdvertisement}
}

// MatchRequest is one element of the request array sent to the matching service.
type MatchRequest struct {
	MPID   int    `json:"mp_id"`
	Number string `json:"number"`
	Text   string `json:"text"`
}
