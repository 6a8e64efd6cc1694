package conversation

import (
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/llm"
)

// Routing functions decide the next step from the state alone.

func routeAfterVerify(s State) Step {
	if s.PatientExists {
		return StepClassify
	}
	return StepRegisterPatient
}

func routeAfterClassify(s State) Step {
	switch s.Classification {
	case llm.Urgency:
		return StepDentalUrgency
	case llm.Emergency:
		return StepMedicalEmergency
	default:
		return StepGeneralQuery
	}
}

func routeAfterUrgency(s State) Step {
	if len(s.AvailableDoctors) == 0 {
		return StepEnd
	}
	if s.UrgencyPolicy == config.UrgencyPolicyAutoAssign {
		return StepConnectDoctor
	}
	if len(s.Slots) > 0 {
		return StepSelectSlot
	}
	return StepEnd
}

func routeAfterConnect(s State) Step {
	if s.AssignedDoctor != nil {
		return StepScheduleAppointment
	}
	return StepEnd
}

func always(next Step) func(State) Step {
	return func(State) Step { return next }
}
