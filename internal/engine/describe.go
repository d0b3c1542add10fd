// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tejzpr/palmem/internal/database"
	"github.com/tejzpr/palmem/internal/gate"
)

// Describe renders an event as the text stored in its memory
func Describe(ev gate.Event) string {
	who := displayName(ev)

	switch ev.Kind {
	case database.KindChat:
		return fmt.Sprintf("%s sagte: %s", who, strings.TrimSpace(ev.Content))
	case database.KindGift:
		gift := ev.Metrics.GiftName
		if gift == "" {
			gift = "ein Geschenk"
		}
		if ev.Metrics.GiftCount > 1 {
			gift = fmt.Sprintf("%dx %s", ev.Metrics.GiftCount, gift)
		}
		return fmt.Sprintf("%s schenkte %s (%s Diamanten)", who, gift, formatNumber(ev.Metrics.DiamondValue))
	case database.KindFollow:
		return fmt.Sprintf("%s folgt jetzt dem Kanal", who)
	case database.KindShare:
		return fmt.Sprintf("%s hat den Stream geteilt", who)
	case database.KindSubscribe:
		return fmt.Sprintf("%s hat den Kanal abonniert", who)
	case database.KindLike:
		if ev.Metrics.LikeCount > 1 {
			return fmt.Sprintf("%s hat %d Likes gegeben", who, ev.Metrics.LikeCount)
		}
		return fmt.Sprintf("%s hat ein Like gegeben", who)
	case database.KindJoin:
		return fmt.Sprintf("%s ist dem Stream beigetreten", who)
	default:
		if content := strings.TrimSpace(ev.Content); content != "" {
			return fmt.Sprintf("%s (%s): %s", who, ev.Kind, content)
		}
		return fmt.Sprintf("%s: %s", who, ev.Kind)
	}
}

// eventPayload returns the free text an event carried, without the
// template words and names Describe adds around it
func eventPayload(ev gate.Event) string {
	if ev.Kind == database.KindGift {
		return strings.TrimSpace(ev.Metrics.GiftName)
	}
	return strings.TrimSpace(ev.Content)
}

// describeResponse renders a generated reply as memory content
func describeResponse(persona, username, text string) string {
	if username == "" {
		return fmt.Sprintf("%s sagte: %s", persona, text)
	}
	return fmt.Sprintf("%s antwortete %s: %s", persona, username, text)
}

// describeProfile renders the profile line handed to the generator
func describeProfile(p *database.UserProfile) string {
	var b strings.Builder
	b.WriteString(p.Username)
	if p.Nickname != "" && p.Nickname != p.Username {
		fmt.Fprintf(&b, " (%s)", p.Nickname)
	}
	fmt.Fprintf(&b, ", %d Interaktionen", p.InteractionCount)
	if p.GiftCount > 0 {
		fmt.Fprintf(&b, ", %d Geschenke (%s Diamanten)", p.GiftCount, formatNumber(p.TotalGiftValue))
	}
	if p.StreamAppearanceCount > 1 {
		fmt.Fprintf(&b, ", %d Streams dabei", p.StreamAppearanceCount)
	}
	if p.LastTopic != "" {
		fmt.Fprintf(&b, ", zuletzt über %s", p.LastTopic)
	}
	return b.String()
}

func displayName(ev gate.Event) string {
	if ev.Nickname != "" {
		return ev.Nickname
	}
	if ev.Username != "" {
		return ev.Username
	}
	return "Jemand"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
