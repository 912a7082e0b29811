package action

import (
	"fmt"
	"strings"
)

// symptomsPlaceholder is spoken when no symptoms were supplied.
const symptomsPlaceholder = "not specified"

// BuildMessage renders the spoken alert for a reason and symptom list.
// Underscores in reason are read out as spaces.
func BuildMessage(reason string, symptoms []string) string {
	symptomsStr := symptomsPlaceholder
	if len(symptoms) > 0 {
		symptomsStr = strings.Join(symptoms, ", ")
	}
	return fmt.Sprintf(
		"Hello Doctor. This is an automated alert from MedAlert Agent. "+
			"A patient has been detected with high-risk symptoms. "+
			"Primary concern: %s. "+
			"Symptoms reported: %s. "+
			"Please check the MedAlert dashboard for full details.",
		strings.ReplaceAll(reason, "_", " "), symptomsStr,
	)
}
