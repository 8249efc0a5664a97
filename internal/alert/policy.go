// Package alert decides who must hear about an activity event and through which channels.
// Everything here is pure: callers supply the admin set, and nothing touches storage.
package alert

import (
	"strings"

	"github.com/stanstork/monev-api/internal/models"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Tier selects a group of recipients.
type Tier int

const (
	TierActor Tier = iota + 1
	TierAdmins
)

// Policy is the notification rule for one severity.
type Policy struct {
	Severity models.Severity
	Tiers    []Tier
	Channels []Channel
	Monitor  bool
	Priority string
}

func (p Policy) includes(tier Tier) bool {
	for _, t := range p.Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

var policies = map[models.Severity]Policy{
	models.SeverityCritical: {
		Severity: models.SeverityCritical,
		Tiers:    []Tier{TierAdmins},
		Channels: []Channel{ChannelEmail, ChannelPush, ChannelInApp},
		Monitor:  true,
		Priority: "CRITICAL",
	},
	models.SeverityHigh: {
		Severity: models.SeverityHigh,
		Tiers:    []Tier{TierActor, TierAdmins},
		Channels: []Channel{ChannelEmail, ChannelPush},
		Priority: "HIGH",
	},
	models.SeverityMedium: {
		Severity: models.SeverityMedium,
		Tiers:    []Tier{TierActor},
		Channels: []Channel{ChannelInApp},
		Priority: "NORMAL",
	},
	models.SeverityLow: {
		Severity: models.SeverityLow,
		Tiers:    []Tier{TierActor},
		Channels: []Channel{ChannelInApp},
		Priority: "LOW",
	},
}

// PolicyFor falls back to the LOW policy for unknown severities.
func PolicyFor(severity models.Severity) Policy {
	if p, ok := policies[severity]; ok {
		return p
	}
	return policies[models.SeverityLow]
}

// NeedsAdmins reports whether resolving an event of this severity requires the admin set.
func NeedsAdmins(severity models.Severity) bool {
	return PolicyFor(severity).includes(TierAdmins)
}

// Resolution is the outcome of Resolve for one event.
type Resolution struct {
	Recipients []models.ActorRef
	Channels   []Channel
	Monitor    bool
	Priority   string
}

// Empty reports whether there is nothing to deliver.
func (r Resolution) Empty() bool {
	return len(r.Recipients) == 0 || len(r.Channels) == 0
}

// Resolve returns recipients in a stable order: the actor first, then admins as given.
// Duplicates are dropped by id, or by email when the id is missing.
func Resolve(event models.ActivityEvent, admins []models.ActorRef) Resolution {
	policy := PolicyFor(event.Severity)
	res := Resolution{
		Channels: append([]Channel(nil), policy.Channels...),
		Monitor:  policy.Monitor,
		Priority: policy.Priority,
	}

	seen := make(map[string]struct{})
	add := func(actor models.ActorRef) {
		key := actorKey(actor)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		res.Recipients = append(res.Recipients, actor)
	}

	if policy.includes(TierActor) {
		if actor, ok := event.Actor(); ok {
			add(actor)
		}
	}
	if policy.includes(TierAdmins) {
		for _, admin := range admins {
			add(admin)
		}
	}
	return res
}

func actorKey(actor models.ActorRef) string {
	if id := strings.TrimSpace(actor.ID); id != "" {
		return "id:" + id
	}
	if email := strings.ToLower(strings.TrimSpace(actor.Email)); email != "" {
		return "email:" + email
	}
	return ""
}
