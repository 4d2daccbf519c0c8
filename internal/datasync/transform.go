package datasync

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tuilink/realtime-monitor/internal/monitor"
)

const profileURNPrefix = "urn:li:fsd_profile:"
const memberURNPrefix = "urn:li:member:"

// connectionsPayload is the get_connections_v2 response body.
type connectionsPayload struct {
	Elements []connectionElement `json:"elements"`
}

type connectionElement struct {
	CreatedAt       int64           `json:"createdAt"`
	ConnectedMember string          `json:"connectedMember"`
	Resolution      *memberResolved `json:"connectedMemberResolutionResult"`
}

type memberResolved struct {
	EntityURN        string `json:"entityUrn"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Headline         string `json:"headline"`
	PublicIdentifier string `json:"publicIdentifier"`
}

// decodeConnectionsPage unpacks one page of connection elements. Elements
// whose member did not resolve (withdrawn or deleted profiles) are skipped.
func decodeConnectionsPage(data json.RawMessage) ([]connectionElement, error) {
	var payload connectionsPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode connections page: %w", err)
	}
	return payload.Elements, nil
}

// connectionFromElement maps one resolved element onto a Connection record.
// The second return is false when the element carries no resolved member.
func connectionFromElement(accountID int64, el connectionElement) (monitor.Connection, bool) {
	if el.Resolution == nil || el.Resolution.EntityURN == "" {
		return monitor.Connection{}, false
	}
	hashID := urnTail(el.Resolution.EntityURN)
	memberID := ""
	if strings.Contains(el.ConnectedMember, memberURNPrefix) {
		memberID = urnTail(el.ConnectedMember)
	}
	if memberID == "" {
		// Some payloads omit the backend member urn; fall back to the
		// profile hash so the uniqueness key stays populated.
		memberID = hashID
	}
	connectedAt := time.Now().UTC()
	if t := epochMillis(el.CreatedAt); t != nil {
		connectedAt = *t
	}
	return monitor.Connection{
		AccountID:   accountID,
		FirstName:   el.Resolution.FirstName,
		LastName:    el.Resolution.LastName,
		Headline:    el.Resolution.Headline,
		PublicID:    el.Resolution.PublicIdentifier,
		HashID:      hashID,
		MemberID:    memberID,
		Source:      monitor.SourceOriginal,
		ConnectedAt: connectedAt,
	}, true
}

// conversationsEnvelope is the conversations response body. The first page
// arrives under messengerConversationsBySyncToken, paged requests under
// messengerConversationsByCategory.
type conversationsEnvelope struct {
	Data struct {
		BySyncToken *conversationsNode `json:"messengerConversationsBySyncToken"`
		ByCategory  *conversationsNode `json:"messengerConversationsByCategory"`
	} `json:"data"`
}

type conversationsNode struct {
	Elements []conversationElement `json:"elements"`
}

type conversationElement struct {
	EntityURN       string        `json:"entityUrn"`
	ConversationURL string        `json:"conversationUrl"`
	CreatedAt       int64         `json:"createdAt"`
	LastActivityAt  int64         `json:"lastActivityAt"`
	LastReadAt      int64         `json:"lastReadAt"`
	UnreadCount     int           `json:"unreadCount"`
	GroupChat       bool          `json:"groupChat"`
	Participants    []participant `json:"conversationParticipants"`
	Messages        struct {
		Elements []messageElement `json:"elements"`
	} `json:"messages"`
}

type participant struct {
	HostIdentityURN  string `json:"hostIdentityUrn"`
	BackendURN       string `json:"backendUrn"`
	PublicIdentifier string `json:"publicIdentifier"`
	ParticipantType  struct {
		Member *memberType `json:"member"`
	} `json:"participantType"`
}

type memberType struct {
	FirstName  textField `json:"firstName"`
	LastName   textField `json:"lastName"`
	Headline   textField `json:"headline"`
	Distance   string    `json:"distance"`
	ProfileURL string    `json:"profileUrl"`
}

type textField struct {
	Text string `json:"text"`
}

type messageElement struct {
	Body        *textField   `json:"body"`
	DeliveredAt int64        `json:"deliveredAt"`
	Actor       *participant `json:"actor"`
	Sender      *participant `json:"sender"`
}

// decodeConversationsPage unpacks one page of conversation elements from
// either response node.
func decodeConversationsPage(data json.RawMessage) ([]conversationElement, error) {
	var envelope conversationsEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode conversations page: %w", err)
	}
	if envelope.Data.BySyncToken != nil {
		return envelope.Data.BySyncToken.Elements, nil
	}
	if envelope.Data.ByCategory != nil {
		return envelope.Data.ByCategory.Elements, nil
	}
	return nil, nil
}

// conversationFromElement maps one conversation element onto a Conversation
// record, keyed on the counterpart participant's profile hash. ownHashID
// identifies the monitored account so its own participant entry is skipped.
// The second return is false when no counterpart participant resolves or the
// element carries no activity timestamp.
func conversationFromElement(accountID int64, ownHashID string, el conversationElement) (monitor.Conversation, bool) {
	activity := epochMillis(el.LastActivityAt)
	if activity == nil {
		return monitor.Conversation{}, false
	}

	conv := monitor.Conversation{
		AccountID:       accountID,
		ConversationURN: el.EntityURN,
		ConversationURL: el.ConversationURL,
		UnreadCount:     el.UnreadCount,
		CreatedAt:       epochMillis(el.CreatedAt),
		LastActivityAt:  *activity,
		LastReadAt:      epochMillis(el.LastReadAt),
		IsGroupChat:     el.GroupChat,
		Source:          monitor.SourceOriginal,
	}

	counterpart := false
	for _, p := range el.Participants {
		hashID := profileHash(p.HostIdentityURN)
		if hashID == "" {
			continue
		}
		if strings.Contains(p.BackendURN, memberURNPrefix) {
			conv.MemberID = urnTail(p.BackendURN)
		}
		if hashID == ownHashID {
			continue
		}
		conv.HashID = hashID
		if member := p.ParticipantType.Member; member != nil {
			conv.FirstName = member.FirstName.Text
			conv.LastName = member.LastName.Text
			conv.Headline = member.Headline.Text
			conv.Distance = member.Distance
		}
		conv.PublicID = participantPublicID(p)
		counterpart = true
		break
	}
	if !counterpart {
		return monitor.Conversation{}, false
	}

	conv.LastMessageSender = "You"
	if len(el.Messages.Elements) > 0 {
		last := el.Messages.Elements[0]
		if last.Body != nil {
			conv.LastMessageText = last.Body.Text
		}
		conv.LastMessageDeliveredAt = epochMillis(last.DeliveredAt)

		actor := last.Actor
		if actor == nil {
			actor = last.Sender
		}
		if actor != nil {
			if hashID := profileHash(actor.HostIdentityURN); hashID != "" && hashID != ownHashID {
				name := ""
				if member := actor.ParticipantType.Member; member != nil {
					name = strings.TrimSpace(member.FirstName.Text + " " + member.LastName.Text)
				}
				if name == "" {
					name = "Unknown"
				}
				conv.LastMessageSender = name
			}
		}
	}

	return conv, true
}

// profileHash extracts the profile hash from a host identity urn, tolerating
// composite urns like "urn:li:msg_member:(urn:li:fsd_profile:AAA,1)".
func profileHash(urn string) string {
	idx := strings.Index(urn, profileURNPrefix)
	if idx < 0 {
		return ""
	}
	rest := urn[idx+len(profileURNPrefix):]
	if cut := strings.IndexAny(rest, "),"); cut >= 0 {
		rest = rest[:cut]
	}
	return rest
}

// participantPublicID prefers the explicit public identifier and falls back
// to parsing the profile URL.
func participantPublicID(p participant) string {
	if p.PublicIdentifier != "" {
		return p.PublicIdentifier
	}
	member := p.ParticipantType.Member
	if member == nil {
		return ""
	}
	_, after, found := strings.Cut(member.ProfileURL, "/in/")
	if !found {
		return ""
	}
	if cut := strings.IndexAny(after, "/?"); cut >= 0 {
		after = after[:cut]
	}
	return after
}

// urnTail returns the last colon-separated segment of a urn.
func urnTail(urn string) string {
	if urn == "" {
		return ""
	}
	parts := strings.Split(urn, ":")
	tail := parts[len(parts)-1]
	if cut := strings.IndexAny(tail, "),"); cut >= 0 {
		tail = tail[:cut]
	}
	return tail
}

// epochMillis converts an epoch timestamp to UTC time, normalizing
// second-resolution values, and returns nil for zero input.
func epochMillis(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	if ts <= 1e10 {
		ts *= 1000
	}
	t := time.UnixMilli(ts).UTC()
	return &t
}

// connectionSummary is the connection_summary response body; the entity urn
// carries the account's own profile hash.
type connectionSummary struct {
	EntityURN string `json:"entityUrn"`
}

// ownHashFromSummary extracts the account's profile hash from a
// connection_summary payload.
func ownHashFromSummary(data json.RawMessage) (string, error) {
	var summary connectionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return "", fmt.Errorf("decode connection summary: %w", err)
	}
	if summary.EntityURN == "" {
		return "", fmt.Errorf("connection summary has no entity urn")
	}
	return urnTail(summary.EntityURN), nil
}
