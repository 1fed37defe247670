// Package accel abstracts optional hardware offload of AES-256-GCM.
//
// An accelerator is a Device registered at process start, typically by a
// build-tagged cgo binding. Probe returns the registered device exactly
// once per process; the choice never changes afterwards, so the hot
// encrypt path carries no probing conditional. When no device is
// registered, or a device call fails for any reason, callers fall back to
// the CPU path. The fallback is a local performance decision: both paths
// produce byte-identical ciphertext and tag for the same inputs, so the
// peer never observes which one ran.
package accel

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// MinDispatchSize is the smallest payload worth offloading. Below this the
// transfer cost to the device exceeds the cipher work saved.
const MinDispatchSize = 32 * 1024

// ErrDeviceFailure indicates the accelerator could not complete an
// operation. Callers recover by retrying on the CPU; the error is never
// surfaced to the peer.
var ErrDeviceFailure = errors.New("accelerator device failure")

// Device executes AES-256-GCM seal and open operations on an accelerator.
// Implementations must be bit-exact with the standard library: identical
// (key, nonce, plaintext, aad) must yield identical ciphertext and tag.
type Device interface {
	Name() string
	SealAESGCM(key, nonce, plaintext, aad []byte) ([]byte, error)
	OpenAESGCM(key, nonce, ciphertext, aad []byte) ([]byte, error)
}

var (
	mu         sync.Mutex
	registered Device
	probeOnce  sync.Once
	probed     Device
)

// Register installs an accelerator device. It must be called before the
// first Probe, normally from an init function in a build-tagged binding.
// Later registrations are ignored once a probe has happened.
func Register(d Device) {
	mu.Lock()
	defer mu.Unlock()
	registered = d
}

// Probe returns the accelerator chosen for this process, or nil when none
// is available. The result is fixed at first call.
func Probe() Device {
	probeOnce.Do(func() {
		mu.Lock()
		probed = registered
		mu.Unlock()
		if probed != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Probe",
				"device":   probed.Name(),
			}).Info("Accelerator device available for AES-256-GCM")
		} else {
			logrus.WithFields(logrus.Fields{
				"function": "Probe",
			}).Debug("No accelerator device registered, using CPU path")
		}
	})
	return probed
}

// Reference is a software device implementing the Device contract with the
// standard library. It exists as the conformance baseline for bindings and
// as the dispatch-path test double; it offers no speedup.
type Reference struct {
	// FailSeal and FailOpen force device failures, exercising the CPU
	// fallback path in tests.
	FailSeal bool
	FailOpen bool
}

// Name identifies the reference device.
func (Reference) Name() string { return "software-reference" }

// SealAESGCM encrypts with the standard library GCM implementation.
func (r Reference) SealAESGCM(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if r.FailSeal {
		return nil, ErrDeviceFailure
	}
	aead, err := r.aead(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// OpenAESGCM decrypts with the standard library GCM implementation.
func (r Reference) OpenAESGCM(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if r.FailOpen {
		return nil, ErrDeviceFailure
	}
	aead, err := r.aead(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, aad)
}

func (Reference) aead(key []byte) (stdcipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return stdcipher.NewGCM(block)
}
