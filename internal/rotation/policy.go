package rotation

// Event is a state change that fans out notifications.
type Event string

const (
	EventEntrySubmitted Event = "entry_submitted"
	EventTurnPassed     Event = "turn_passed"
	EventMemberJoined   Event = "member_joined"
)

// Notification type vocabulary. Owned here because fanout is the only
// producer; stores and handlers reuse these strings.
const (
	NotifyYourTurn           = "your_turn"
	NotifyJournalPassed      = "journal_passed"
	NotifyNewMember          = "new_member"
	NotifyInvitationReceived = "invitation_received"
)

// Notice pairs a recipient with a notification type.
type Notice struct {
	Recipient string
	Type      string
}

// Fanout maps one event to its notification recipients. The actor never
// receives a notice. For EventEntrySubmitted and EventTurnPassed the caller
// passes the post-advance turn index; for EventMemberJoined the post-join
// member list with the joiner as actor.
func Fanout(event Event, members, turnOrder []string, turnIndex int, actor string) []Notice {
	notices := make([]Notice, 0, len(members))
	switch event {
	case EventEntrySubmitted:
		next := Holder(turnOrder, turnIndex)
		if next != "" && next != actor {
			notices = append(notices, Notice{Recipient: next, Type: NotifyYourTurn})
		}
		for _, member := range members {
			if member == actor || member == next {
				continue
			}
			notices = append(notices, Notice{Recipient: member, Type: NotifyJournalPassed})
		}
	case EventTurnPassed:
		next := Holder(turnOrder, turnIndex)
		if next != "" && next != actor {
			notices = append(notices, Notice{Recipient: next, Type: NotifyYourTurn})
		}
	case EventMemberJoined:
		for _, member := range members {
			if member == actor {
				continue
			}
			notices = append(notices, Notice{Recipient: member, Type: NotifyNewMember})
		}
	}
	return notices
}
