package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicPrefix is the root of every Transponder topic.
const TopicPrefix = "transponder"

// Topics builds Transponder MQTT topics.
//
//	mqtt.Topics{}.HostMailbox("hall", "kitchen")
//	// transponder/hosts/hall/mailboxes/kitchen
type Topics struct{}

// HostMailbox is the retained roster document for one mailbox.
func (Topics) HostMailbox(host, id string) string {
	return fmt.Sprintf("%s/hosts/%s/mailboxes/%s", TopicPrefix, host, id)
}

// HostMailboxes matches every roster document for host.
func (Topics) HostMailboxes(host string) string {
	return fmt.Sprintf("%s/hosts/%s/mailboxes/+", TopicPrefix, host)
}

// GlobalVersion carries the version every appliance should run.
func (Topics) GlobalVersion() string {
	return TopicPrefix + "/global/version"
}

// PanelButton is published by a remote panel when a button changes state.
func (Topics) PanelButton(host string, pin int) string {
	return fmt.Sprintf("%s/panel/%s/button/%d", TopicPrefix, host, pin)
}

// PanelButtons matches every button of host's panel.
func (Topics) PanelButtons(host string) string {
	return fmt.Sprintf("%s/panel/%s/button/+", TopicPrefix, host)
}

// PanelLight is the colour command for one pixel.
func (Topics) PanelLight(host string, index int) string {
	return fmt.Sprintf("%s/panel/%s/light/%d", TopicPrefix, host, index)
}

// SystemStatus carries online/offline status and the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// MailboxIDFromTopic extracts {id} from a HostMailbox topic.
func MailboxIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[1] != "hosts" || parts[3] != "mailboxes" || parts[4] == "" {
		return "", false
	}
	return parts[4], true
}

// PinFromButtonTopic extracts {pin} from a PanelButton topic.
func PinFromButtonTopic(topic string) (int, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[1] != "panel" || parts[3] != "button" {
		return 0, false
	}
	pin, err := strconv.Atoi(parts[4])
	if err != nil || pin < 0 {
		return 0, false
	}
	return pin, true
}
