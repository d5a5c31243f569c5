package scheduler

import (
	"context"

	"github.com/coreos/debile/internal/keyring"
	"github.com/coreos/debile/internal/model"
	"github.com/coreos/debile/internal/store"
)

// Principal management (spec.md §4.4): create_user, update_user_keys,
// disable_user, create_builder, update_builder_keys, disable_builder. Each
// key-bearing call imports the supplied signing-key/transport-cert blobs
// through internal/keyring before recording the resulting fingerprints, the
// same narrow adapter ingest uses — grounded on
// original_source/debile/master/server.py's admin surface, which called
// straight into keyrings.py for the same two imports.

type CreateUserArgs struct {
	Username string
	Name     string
	Email    string
}

type CreateUserReply struct {
	Person *model.Person
}

// CreateUser is user-only.
func (a *API) CreateUser(args CreateUserArgs, reply *CreateUserReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	return a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		p, err := tx.CreateUser(args.Username, args.Name, args.Email)
		if err != nil {
			return err
		}
		reply.Person = p
		return nil
	})
}

type UpdateUserKeysArgs struct {
	PersonID      int64
	SigningKey    []byte
	TransportCert []byte
	TransportCN    string
	TransportEmail string
}

type UpdateUserKeysReply struct {
	SigningFingerprint   string
	TransportFingerprint string
}

// UpdateUserKeys is user-only; it imports both blobs through
// internal/keyring and records the resulting fingerprints on the Person.
func (a *API) UpdateUserKeys(args UpdateUserKeysArgs, reply *UpdateUserKeysReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	signingFP, transportFP, err := a.Coordinator.importKeys(
		args.SigningKey, args.TransportCert, args.TransportCN, args.TransportEmail,
	)
	if err != nil {
		return err
	}
	err = a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		return tx.UpdateUserKeys(args.PersonID, signingFP, transportFP)
	})
	if err != nil {
		return err
	}
	reply.SigningFingerprint = signingFP
	reply.TransportFingerprint = transportFP
	return nil
}

type DisableUserArgs struct {
	PersonID int64
}

type DisableUserReply struct{}

// DisableUser is user-only; sets both fingerprints to the sentinel so no
// certificate or key can ever authenticate as this person again.
func (a *API) DisableUser(args DisableUserArgs, reply *DisableUserReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	return a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		return tx.DisableUser(args.PersonID)
	})
}

type CreateBuilderArgs struct {
	Name string
}

type CreateBuilderReply struct {
	Builder *model.Builder
}

// CreateBuilder is user-only.
func (a *API) CreateBuilder(args CreateBuilderArgs, reply *CreateBuilderReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	return a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		b, err := tx.CreateBuilder(args.Name)
		if err != nil {
			return err
		}
		reply.Builder = b
		return nil
	})
}

type UpdateBuilderKeysArgs struct {
	BuilderID      int64
	SigningKey     []byte
	TransportCert  []byte
	TransportCN    string
	TransportEmail string
}

type UpdateBuilderKeysReply struct {
	SigningFingerprint   string
	TransportFingerprint string
}

// UpdateBuilderKeys is user-only.
func (a *API) UpdateBuilderKeys(args UpdateBuilderKeysArgs, reply *UpdateBuilderKeysReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	signingFP, transportFP, err := a.Coordinator.importKeys(
		args.SigningKey, args.TransportCert, args.TransportCN, args.TransportEmail,
	)
	if err != nil {
		return err
	}
	err = a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		return tx.UpdateBuilderKeys(args.BuilderID, signingFP, transportFP)
	})
	if err != nil {
		return err
	}
	reply.SigningFingerprint = signingFP
	reply.TransportFingerprint = transportFP
	return nil
}

type DisableBuilderArgs struct {
	BuilderID int64
}

type DisableBuilderReply struct{}

// DisableBuilder is user-only.
func (a *API) DisableBuilder(args DisableBuilderArgs, reply *DisableBuilderReply) error {
	if err := a.userOnly(); err != nil {
		return err
	}
	return a.Coordinator.withTx(context.Background(), func(tx *store.Tx) error {
		return tx.DisableBuilder(args.BuilderID)
	})
}

// importKeys imports the signing-key blob into the coordinator's OpenPGP
// keyring and the transport-cert blob into its X.509 bundle — both always
// supplied together per spec.md §4.4 — returning the resulting
// fingerprints to store on the principal.
func (c *Coordinator) importKeys(signingKey, transportCert []byte, cn, email string) (signingFP, transportFP string, err error) {
	signingFP, err = keyring.ImportSigning(c.KeyringPath, signingKey)
	if err != nil {
		return "", "", err
	}
	transportFP, err = keyring.ImportTransport(c.TransportPath, transportCert, cn, email)
	if err != nil {
		return "", "", err
	}
	return signingFP, transportFP, nil
}
