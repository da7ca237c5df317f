// Package cloud defines the capabilities stacker needs from a cloud provider:
// block storage volumes, volume backups, server volume attachments and image
// lookup.
//
// Every method is a single request. Asynchronous provider operations are
// observed by the caller polling GetVolume or GetBackup until the object reaches
// a terminal status; nothing in this package waits.
//
// Provider failures are reported as *Error values carrying a Kind. Callers that
// treat absence as success switch on Classify instead of inspecting the error:
//
//	switch cloud.Classify(err) {
//	case cloud.OutcomeSuccess:
//	case cloud.OutcomeNotFound:
//	    return true, nil
//	default:
//	    return false, err
//	}
package cloud
