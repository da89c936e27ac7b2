//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"github.com/pkg/errors"
)

// TagOp is a single atomic operation executed against each tag
// matching a filter (or the active read plan's population).
type TagOp interface {
	// Validate checks the operation's payload before any radio activity.
	Validate() error
	// Name is a short description used in logs and errors.
	Name() string
}

// TagOpResult is the outcome of a TagOp for one tag.
// A non-nil Err is a per-tag failure; it never aborts the other tags.
type TagOpResult struct {
	EPC  []byte
	Data []byte
	Err  error
}

// Succeeded reports whether the operation succeeded on this tag.
func (r TagOpResult) Succeeded() bool {
	return r.Err == nil
}

const (
	Tam1KeyLen       = 16
	Tam1ChallengeLen = 10
	maxEPCWords      = 31
)

// Tam1KeyID selects which of a tag's AES keys authenticates a TAM1 exchange.
type Tam1KeyID uint8

const (
	Key0 = Tam1KeyID(iota)
	Key1
)

// Tam1Authentication is an NXP AES Tag Authentication Method 1
// challenge/response exchange.
type Tam1Authentication struct {
	KeyID       Tam1KeyID
	Key         []byte
	IChallenge  []byte
	SendRawData bool
}

// NewTam1Authentication validates and builds a TAM1 authentication.
func NewTam1Authentication(keyID Tam1KeyID, key, ichallenge []byte, sendRaw bool) (*Tam1Authentication, error) {
	a := &Tam1Authentication{
		KeyID:       keyID,
		Key:         append([]byte(nil), key...),
		IChallenge:  append([]byte(nil), ichallenge...),
		SendRawData: sendRaw,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Tam1Authentication) Name() string { return "Tam1Authentication" }

func (a *Tam1Authentication) Validate() error {
	if a.KeyID > Key1 {
		return newError(KindValidation, a.Name(), errors.Errorf("invalid key id %d", a.KeyID))
	}
	if len(a.Key) != Tam1KeyLen {
		return newError(KindValidation, a.Name(),
			errors.Errorf("key must be %d bytes, got %d", Tam1KeyLen, len(a.Key)))
	}
	if len(a.IChallenge) != Tam1ChallengeLen {
		return newError(KindValidation, a.Name(),
			errors.Errorf("challenge must be %d bytes, got %d", Tam1ChallengeLen, len(a.IChallenge)))
	}
	return nil
}

// UntraceableAuthType is how an Untraceable operation proves its right to run.
type UntraceableAuthType int

const (
	UntraceableWithAuthentication = UntraceableAuthType(iota)
	UntraceableWithAccess
)

type UntraceableAuth struct {
	Type           UntraceableAuthType
	Tam1           *Tam1Authentication
	AccessPassword uint32
}

type EPCVisibility int

const (
	EPCShow = EPCVisibility(iota)
	EPCHide
)

type TIDVisibility int

const (
	TIDHideNone = TIDVisibility(iota)
	TIDHideSome
	TIDHideAll
)

type UserVisibility int

const (
	UserShow = UserVisibility(iota)
	UserHide
)

type RangeMode int

const (
	RangeNormal = RangeMode(iota)
	RangeToggle
	RangeReduced
)

// Untraceable changes which parts of a tag's memory
// are visible to unauthenticated readers (NXP UCODE DNA).
type Untraceable struct {
	EPC EPCVisibility
	// EPCLength is the visible EPC length, in 16-bit words.
	EPCLength uint8
	TID       TIDVisibility
	User      UserVisibility
	Range     RangeMode
	Auth      UntraceableAuth
}

func (u *Untraceable) Name() string { return "Untraceable" }

func (u *Untraceable) Validate() error {
	if u.EPCLength > maxEPCWords {
		return newError(KindValidation, u.Name(),
			errors.Errorf("EPC length %d words exceeds %d", u.EPCLength, maxEPCWords))
	}

	switch u.Auth.Type {
	case UntraceableWithAuthentication:
		if u.Auth.Tam1 == nil {
			return newError(KindValidation, u.Name(), errors.New("missing TAM1 authentication"))
		}
		return u.Auth.Tam1.Validate()
	case UntraceableWithAccess:
		return nil
	default:
		return newError(KindValidation, u.Name(), errors.Errorf("unknown auth type %d", u.Auth.Type))
	}
}

// ReadData reads WordCount 16-bit words from Bank starting at WordAddress.
type ReadData struct {
	Bank        MemoryBank
	WordAddress uint32
	WordCount   uint8
}

func (r *ReadData) Name() string { return "ReadData" }

func (r *ReadData) Validate() error {
	if r.Bank > BankUser {
		return newError(KindValidation, r.Name(), errors.Errorf("invalid bank %d", r.Bank))
	}
	return nil
}
