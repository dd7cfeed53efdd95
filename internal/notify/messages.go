package notify

import (
	"fmt"

	"wedding-notify/internal/models"
)

func coupleNames(event *models.Event) string {
	if event.BrideName != "" && event.GroomName != "" {
		return fmt.Sprintf("*%s* & *%s*", event.BrideName, event.GroomName)
	}
	return "*" + event.Name + "*"
}

func inviteMessage(guest *models.Guest, event *models.Event) string {
	return fmt.Sprintf(
		"🎉 *Wedding Invitation*\n\n"+
			"Dear %s,\n\n"+
			"You are cordially invited to celebrate the wedding of\n\n"+
			"%s\n\n"+
			"📅 Date: %s\n"+
			"📍 Location: %s",
		guest.Name, coupleNames(event),
		event.EventDate.Format("Monday, January 2, 2006"), event.Venue,
	)
}

func interactiveInviteMessage(guest *models.Guest, event *models.Event) string {
	return inviteMessage(guest, event) +
		"\n\nPlease confirm your attendance. Reply with:\n" +
		"✅ *YES* to accept\n❌ *NO* to decline\n🤔 *MAYBE* if you're not sure yet"
}

func reminderMessage(guest *models.Guest, event *models.Event, custom string) string {
	if custom != "" {
		return custom
	}
	return fmt.Sprintf(
		"Hi %s! Just a friendly reminder about the wedding of %s on %s at %s. We'd love to see you there! 💕",
		guest.Name, coupleNames(event),
		event.EventDate.Format("Monday, January 2, 2006"), event.Venue,
	)
}

func interactiveReminderMessage(guest *models.Guest, event *models.Event, custom string) string {
	return reminderMessage(guest, event, custom) +
		"\n\nCould you let us know if you can make it? Reply with:\n" +
		"✅ *YES* to accept\n❌ *NO* to decline\n🤔 *MAYBE* if you're not sure yet"
}

func guestCountRequestMessage(guest *models.Guest) string {
	return fmt.Sprintf(
		"Wonderful, %s! 🎉 How many of you will be joining us?\n\n"+
			"Please reply with a number (e.g., *2*).",
		guest.Name,
	)
}

func confirmationMessage(guest *models.Guest, event *models.Event, status models.RsvpStatus, guestCount int) string {
	switch status {
	case models.RsvpAccepted:
		seats := ""
		if guestCount > 0 {
			seats = fmt.Sprintf(" We've saved %d seats for you.", guestCount)
		}
		return fmt.Sprintf(
			"🎉 Wonderful! We're so excited to celebrate with you!\n\n"+
				"We've confirmed your attendance for the wedding of %s on %s.%s\n\n"+
				"See you there! 💕",
			coupleNames(event), event.EventDate.Format("Monday, January 2, 2006"), seats,
		)
	case models.RsvpDeclined:
		return fmt.Sprintf(
			"Thank you for letting us know. We're sorry you won't be able to join us for the wedding of %s.\n\n"+
				"We'll miss you! 💕",
			coupleNames(event),
		)
	case models.RsvpMaybe:
		return fmt.Sprintf(
			"No worries, %s, take your time! We'll check back with you before the wedding of %s on %s. 💕",
			guest.Name, coupleNames(event), event.EventDate.Format("Monday, January 2, 2006"),
		)
	default:
		return fmt.Sprintf("Thanks for your reply, %s!", guest.Name)
	}
}
