package workflow

import (
	"github.com/garyjia/letter-approval/internal/domain/entity"
	domainwf "github.com/garyjia/letter-approval/internal/domain/workflow"
)

// letterLifecycle is shared by every letter. APPROVE stays in PENDING until
// the active step is the last one; REJECTED and SIGNED have no exits.
var letterLifecycle = domainwf.NewBuilder[*entity.Letter]().
	PermitIf(domainwf.StatePending, domainwf.TriggerApprove, domainwf.StatePending, notLastStep).
	PermitIf(domainwf.StatePending, domainwf.TriggerApprove, domainwf.StateApproved, (*entity.Letter).IsLastStep).
	Permit(domainwf.StatePending, domainwf.TriggerReject, domainwf.StateRejected).
	Permit(domainwf.StateApproved, domainwf.TriggerSign, domainwf.StateSigned).
	MustBuild()

func notLastStep(l *entity.Letter) bool { return !l.IsLastStep() }

// BuildLetterStateMachine positions the lifecycle at the letter's status
func BuildLetterStateMachine(letter *entity.Letter) *domainwf.Machine[*entity.Letter] {
	return domainwf.NewMachine(letterLifecycle, letter, domainwf.State(letter.Status))
}
