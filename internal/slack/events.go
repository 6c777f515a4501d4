package slack

// Envelope is the outer payload Slack posts to the events endpoint.
// For type "url_verification" only Challenge is populated; for
// "event_callback" the inner Event carries the actual event.
type Envelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	EventTime int64  `json:"event_time,omitempty"`
	Event     Event  `json:"event,omitempty"`
}

// Event is the inner event object. Fields are a union across the event
// types this system consumes (message, reaction_added, reaction_removed);
// unused fields are simply zero.
type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	BotID   string `json:"bot_id,omitempty"`
	User    string `json:"user,omitempty"`
	Text    string `json:"text,omitempty"`
	TS      string `json:"ts,omitempty"`
	Channel string `json:"channel,omitempty"`
	Files   []File `json:"files,omitempty"`

	// Reaction events.
	Reaction string       `json:"reaction,omitempty"`
	ItemUser string       `json:"item_user,omitempty"`
	Item     ReactionItem `json:"item,omitempty"`
}

// File is an attachment descriptor on a file_share message.
type File struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	URLPrivateDownload string `json:"url_private_download"`
}

// ReactionItem identifies what a reaction was attached to.
type ReactionItem struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}

// Envelope and event type constants.
const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"

	eventMessage         = "message"
	eventReactionAdded   = "reaction_added"
	eventReactionRemoved = "reaction_removed"

	subtypeFileShare = "file_share"
)

// DefaultMarkReaction is the reaction name that marks a post for deletion
// (adding it) or restoration (removing it).
const DefaultMarkReaction = "x"

// Action is the classifier's verdict for a verified event.
type Action int

const (
	// ActionIgnore means the event is valid but irrelevant to the feed.
	ActionIgnore Action = iota
	// ActionCreate means the event should produce a new feed post.
	ActionCreate
	// ActionDelete means the matching post should be soft-deleted.
	ActionDelete
	// ActionRestore means the matching post should be un-deleted.
	ActionRestore
)

// String returns the action name for logging.
func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionDelete:
		return "delete"
	case ActionRestore:
		return "restore"
	default:
		return "ignore"
	}
}

// Classification is the classifier output: an action plus the fields the
// queue needs, already extracted from the event.
type Classification struct {
	Action Action

	// Create fields.
	User    string
	Text    string
	Channel string
	// CorrelationID is the originating message timestamp, Slack's per-channel
	// message identifier. It links a post back to later reaction events.
	CorrelationID string
	File          *File

	// Delete/Restore fields.
	RequestedBy string
}

// Classifier turns verified event payloads into queue intents. It performs
// no I/O; enqueueing is the caller's responsibility.
type Classifier struct {
	markReaction string
}

// NewClassifier creates a Classifier using the given mark reaction.
// An empty markReaction falls back to DefaultMarkReaction.
func NewClassifier(markReaction string) *Classifier {
	if markReaction == "" {
		markReaction = DefaultMarkReaction
	}
	return &Classifier{markReaction: markReaction}
}

// Classify inspects an inner event and decides what, if anything, the feed
// should do with it.
//
// A message is eligible for creation only when it is a plain user message
// (no subtype) or a file_share, and is not bot-authored. Edits, deletions,
// joins, and every other subtype are ignored — they never represent new
// user content. Reactions only count when attached to a message and using
// the configured mark reaction.
func (c *Classifier) Classify(ev Event) Classification {
	switch ev.Type {
	case eventMessage:
		if ev.BotID != "" {
			return Classification{Action: ActionIgnore}
		}
		if ev.Subtype != "" && ev.Subtype != subtypeFileShare {
			return Classification{Action: ActionIgnore}
		}

		cls := Classification{
			Action:        ActionCreate,
			User:          ev.User,
			Text:          ev.Text,
			Channel:       ev.Channel,
			CorrelationID: ev.TS,
		}
		if len(ev.Files) > 0 {
			f := ev.Files[0]
			cls.File = &f
		}
		return cls

	case eventReactionAdded:
		if ev.Reaction != c.markReaction || ev.Item.Type != eventMessage {
			return Classification{Action: ActionIgnore}
		}
		return Classification{
			Action:        ActionDelete,
			CorrelationID: ev.Item.TS,
			Channel:       ev.Item.Channel,
			RequestedBy:   ev.User,
		}

	case eventReactionRemoved:
		if ev.Reaction != c.markReaction || ev.Item.Type != eventMessage {
			return Classification{Action: ActionIgnore}
		}
		return Classification{
			Action:        ActionRestore,
			CorrelationID: ev.Item.TS,
			Channel:       ev.Item.Channel,
			RequestedBy:   ev.User,
		}
	}

	return Classification{Action: ActionIgnore}
}
