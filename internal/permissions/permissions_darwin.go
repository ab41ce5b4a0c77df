//go:build darwin

package permissions

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AVFoundation
#import <AVFoundation/AVFoundation.h>

int microphoneStatus() {
    return (int)[AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
}

void requestMicrophone() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}
*/
import "C"

import "errors"

// MicrophoneStatus mirrors AVAuthorizationStatus
type MicrophoneStatus int

const (
	NotDetermined MicrophoneStatus = 0
	Restricted    MicrophoneStatus = 1
	Denied        MicrophoneStatus = 2
	Authorized    MicrophoneStatus = 3
)

// ErrMicrophoneDenied is returned until the user grants microphone access
var ErrMicrophoneDenied = errors.New("microphone permission not granted")

// Microphone returns the current microphone permission status
func Microphone() MicrophoneStatus {
	return MicrophoneStatus(C.microphoneStatus())
}

// EnsurePermissions checks microphone access and shows the system prompt when
// the user has not decided yet
func EnsurePermissions() error {
	switch Microphone() {
	case Authorized:
		return nil
	case NotDetermined:
		C.requestMicrophone()
	}
	return ErrMicrophoneDenied
}
