package dispatch

import "github.com/hazyhaar/shotkit/pageshot/shot"

// Notice returns the notification title and message shown for a failed
// command.
func Notice(action shot.Action, err error) (title, message string) {
	switch shot.KindOf(err) {
	case shot.KindNoActiveTab:
		return "No active tab found.", "Click the tab you want to capture and try again."
	case shot.KindRestrictedPage:
		return "Browser restrictions.", "Screenshots cannot be taken on this special page."
	case shot.KindBusy:
		return "Capture already in progress.", "Wait for the current capture to finish."
	case shot.KindInvalidRequest:
		return "Invalid request.", err.Error()
	}

	switch action {
	case shot.ActionCaptureVisible:
		return "Visible capture failed.", err.Error()
	case shot.ActionCaptureFull:
		return "An error occurred: " + err.Error(), "Try refreshing the page."
	case shot.ActionInitiateArea:
		return "Failed to start selection.", "Refresh the tab and try again."
	case shot.ActionCaptureArea:
		return "An error occurred while cropping the image.", err.Error()
	}
	return "Capture failed.", err.Error()
}
