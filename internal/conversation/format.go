package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
)

const displayDate = "02/01/2006"

func formatSlotOffer(intro string, slots []appointment.SlotOffer) string {
	var b strings.Builder
	b.WriteString(intro)
	for i, o := range slots {
		date := o.Date
		if d, err := time.Parse("2006-01-02", o.Date); err == nil {
			date = d.Format(displayDate)
		}
		fmt.Fprintf(&b, "\n%d. %s %s, %s-%s with %s (%s)", i+1, o.Weekday, date, o.Start, o.End, o.DoctorName, o.Specialty)
	}
	b.WriteString("\n\nReply with the appointment you prefer.")
	return b.String()
}

func confirmationCard(a *BookedAppointment, loc *time.Location) string {
	day := a.Date
	if d, err := appointment.ParseDate(a.Date, loc); err == nil {
		day = d.Weekday().String() + " " + d.Format(displayDate)
	}
	return fmt.Sprintf("Appointment booked\n\n"+
		"- Doctor: %s\n"+
		"- Date: %s\n"+
		"- Time: %s - %s\n"+
		"- Reason: %s\n\n"+
		"Please arrive 10 minutes early.",
		a.DoctorName, day, a.Start, a.End, a.Reason)
}
