package conversation

import "context"

// maxStepsPerRun bounds one Send or Resume call. The longest path is
// verify, register, classify, urgency, connect, schedule.
const maxStepsPerRun = 12

type nodeFunc func(ctx context.Context, s State) (State, error)

type node struct {
	run   nodeFunc
	route func(State) Step
}

func (e *Engine) buildGraph() map[Step]node {
	return map[Step]node{
		StepVerifyPatient:       {run: e.verifyPatient, route: routeAfterVerify},
		StepRegisterPatient:     {run: e.registerPatient, route: always(StepClassify)},
		StepClassify:            {run: e.classify, route: routeAfterClassify},
		StepGeneralQuery:        {run: e.generalQuery, route: always(StepEnd)},
		StepDentalUrgency:       {run: e.dentalUrgency, route: routeAfterUrgency},
		StepCheckAvailability:   {run: e.checkAvailability, route: routeAfterUrgency},
		StepSelectSlot:          {run: e.selectSlot, route: always(StepEnd)},
		StepConnectDoctor:       {run: e.connectDoctor, route: routeAfterConnect},
		StepScheduleAppointment: {run: e.scheduleAppointment, route: always(StepEnd)},
		StepMedicalEmergency:    {run: e.medicalEmergency, route: always(StepEnd)},
	}
}
