package consensus

import (
	"fmt"

	"github.com/pkg/errors"
)

var errNotValidator = errors.New("sender is not a validator")

// AuthError is returned when a message signature is invalid or its
// sender is not in the validator set of the message height.
type AuthError struct {
	Sender Addr
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticate message from %v: %v", e.Sender, e.Err)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// recoverSender recovers the message sender from its signature. It
// does not check validator membership, the validator set of a future
// height may not be known yet.
func recoverSender(m *Message) error {
	addr, err := RecoverAddr(m.Digest(), m.Signature)
	if err != nil {
		return &AuthError{Err: err}
	}

	m.from = addr
	return nil
}

// checkMember checks the already recovered sender against vs.
func checkMember(m *Message, vs *ValidatorSet) error {
	if !vs.Contains(m.from) {
		return &AuthError{Sender: m.from, Err: errNotValidator}
	}

	return nil
}

// authenticator verifies message senders against the validator set
// of the message height.
type authenticator struct {
	validators ValidatorProvider
}

func newAuthenticator(validators ValidatorProvider) *authenticator {
	return &authenticator{validators: validators}
}

// Authenticate returns the sender of the message.
func (a *authenticator) Authenticate(m *Message) (Addr, error) {
	err := recoverSender(m)
	if err != nil {
		return Addr{}, err
	}

	err = a.checkSender(m, nil)
	if err != nil {
		return Addr{}, err
	}

	return m.from, nil
}

// checkSender checks the recovered sender against the validator set
// of the message height. When that set is not known, fallback is used
// instead if it is not nil.
func (a *authenticator) checkSender(m *Message, fallback *ValidatorSet) error {
	vs, err := a.validators.ValidatorsAt(m.Height)
	if err != nil {
		if fallback != nil {
			return checkMember(m, fallback)
		}

		if errors.Is(err, ErrUnknownValidatorSet) {
			return err
		}
		return errors.Wrapf(ErrUnknownValidatorSet, "authenticate height %d: %v", m.Height, err)
	}

	return checkMember(m, vs)
}

// authenticateWith recovers the sender of a message embedded in a
// certificate and checks it against vs.
func authenticateWith(m *Message, vs *ValidatorSet) error {
	err := recoverSender(m)
	if err != nil {
		return err
	}

	return checkMember(m, vs)
}
