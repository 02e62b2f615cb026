package mqtt

import "fmt"

// TopicPrefix is the root of every karaoke core topic.
const TopicPrefix = "karaoke"

// Topics builds topic names so publishers and subscribers agree on them.
//
//	karaoke/system/status              retained online/offline status
//	karaoke/auth/event/{kind}          account events (login, locked, ...)
//	karaoke/auth/command/revoke        operator command: revoke a user's sessions
type Topics struct{}

// Status returns the retained service status topic.
func (Topics) Status() string {
	return TopicPrefix + "/system/status"
}

// AuthEvent returns the topic for one kind of account event.
//
// Example: karaoke/auth/event/login
func (Topics) AuthEvent(kind string) string {
	return fmt.Sprintf("%s/auth/event/%s", TopicPrefix, kind)
}

// AllAuthEvents matches every account event topic.
func (Topics) AllAuthEvents() string {
	return TopicPrefix + "/auth/event/+"
}

// AuthRevokeCommand returns the topic operators publish revoke requests to.
func (Topics) AuthRevokeCommand() string {
	return TopicPrefix + "/auth/command/revoke"
}
