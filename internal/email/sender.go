// Package email delivers operator notifications about custom domains.
package email

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message is a plain-text notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// AbandonedNotice describes a domain whose background verification gave up.
type AbandonedNotice struct {
	Domain      string
	RecordType  string
	Host        string
	Value       string
	Attempts    int
	AbandonedAt time.Time
}

// Message renders the notice addressed to to.
func (n AbandonedNotice) Message(to string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Automatic verification of %s stopped after %d attempts.\n\n", n.Domain, n.Attempts)
	b.WriteString("The expected DNS record was not found:\n\n")
	fmt.Fprintf(&b, "  Type:  %s\n", n.RecordType)
	fmt.Fprintf(&b, "  Host:  %s\n", n.Host)
	fmt.Fprintf(&b, "  Value: %s\n\n", n.Value)
	b.WriteString("Publish the record, then run a manual check from the dashboard or with\n")
	fmt.Fprintf(&b, "`domainctl check %s`.\n\n", n.Domain)
	fmt.Fprintf(&b, "Stopped at %s.\n", n.AbandonedAt.UTC().Format(time.RFC1123))

	return Message{
		To:      to,
		Subject: "Domain verification stopped: " + n.Domain,
		Body:    b.String(),
	}
}
