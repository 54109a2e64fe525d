package channel

import (
	"sync"

	"github.com/jinzhu/copier"
)

// Message is one conversation entry. Assistant content is append-only while
// the message is streaming and never mutated once Complete is set.
type Message struct {
	ID       string
	Role     string
	Content  string
	Complete bool
}

// Conversation is the local message model. The stream reassembler is its
// only writer for assistant messages; the channel appends user submissions.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	index    map[string]int
}

func newConversation() *Conversation {
	return &Conversation{index: map[string]int{}}
}

func (c *Conversation) Append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
}

// AppendChunk grows an in-flight message. It reports false when the id is
// unknown or the message already completed, leaving everything untouched.
func (c *Conversation) AppendChunk(id, chunk string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[id]
	if !ok || c.messages[i].Complete {
		return false
	}

	c.messages[i].Content += chunk
	return true
}

func (c *Conversation) Complete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[id]
	if !ok {
		return false
	}

	c.messages[i].Complete = true
	return true
}

func (c *Conversation) Message(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[id]
	if !ok {
		return Message{}, false
	}
	return c.messages[i], true
}

// Snapshot returns a point-in-time deep copy of the conversation.
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	messages := make([]Message, 0, len(c.messages))
	_ = copier.CopyWithOption(&messages, &c.messages, copier.Option{DeepCopy: true})
	return messages
}

// Replace swaps the whole history for one fetched from the session store.
// Used after a reconnect, which is a message-loss boundary.
func (c *Conversation) Replace(messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append([]Message(nil), messages...)
	c.index = make(map[string]int, len(messages))
	for i, msg := range c.messages {
		c.index[msg.ID] = i
	}
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
