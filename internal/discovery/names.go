// ABOUTME: Resource-name builders for the answer provider API.
// ABOUTME: Engines and sessions are addressed by fully-qualified slash paths.

package discovery

import "fmt"

// EngineName returns the fully-qualified resource name for an engine.
func EngineName(projectID, engineID string) string {
	return fmt.Sprintf("projects/%s/locations/global/collections/default_collection/engines/%s", projectID, engineID)
}

// SessionName returns the fully-qualified session name under an engine.
// An empty sessionID addresses the sessionless pseudo-session "-".
func SessionName(projectID, engineID, sessionID string) string {
	if sessionID == "" {
		sessionID = "-"
	}
	return fmt.Sprintf("%s/sessions/%s", EngineName(projectID, engineID), sessionID)
}
