package assistant

import "math/rand"

// fallbackReplies are served when the model is unreachable. The chat surface
// never returns a hard error to the caller.
var fallbackReplies = []string{
	"I'm having a little trouble thinking right now. Maybe start by writing about one small moment from today that stuck with you?",
	"I can't reach my ideas at the moment, but here's a thought: describe today in three sentences, then pick one to expand.",
	"My connection is spotty. While I recover, try opening your entry with the strongest feeling you had today.",
	"I'm briefly offline. A prompt to keep you going: what would you want the next writer in your journal to know about today?",
	"I couldn't come up with a response just now. You could try listing three things you noticed today and writing about the odd one out.",
}

// fallbackReply picks one canned reply uniformly at random.
func fallbackReply() string {
	return fallbackReplies[rand.Intn(len(fallbackReplies))]
}
