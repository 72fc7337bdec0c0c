// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/luxfi/cache"
	"github.com/luxfi/cache/lru"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
	"github.com/luxfi/utils"
)

const (
	proposalCacheSize   = 2048
	invitationCacheSize = 256
)

var (
	_ State = (*state)(nil)

	OwnerPrefix         = []byte("owner")
	InvitationPrefix    = []byte("invitation")
	ProposalPrefix      = []byte("proposal")
	ProposalIndexPrefix = []byte("proposalIndex")
	ApprovalPrefix      = []byte("approval")
	SingletonPrefix     = []byte("singleton")

	AddressKey     = []byte("address")
	QuorumKey      = []byte("quorum")
	NonceKey       = []byte("nonce")
	BalanceKey     = []byte("balance")
	InitializedKey = []byte("initialized")
)

// State is the durable store backing a safe. Mutations are buffered in
// memory and written atomically by Commit; everything staged since the last
// Commit is discarded by Abort.
type State interface {
	IsOwner(addr ids.ShortID) bool
	AddOwner(addr ids.ShortID)
	RemoveOwner(addr ids.ShortID)
	OwnerCount() uint64
	Owners() []ids.ShortID

	GetInvitation(addr ids.ShortID) (*Invitation, error)
	PutInvitation(addr ids.ShortID, invitation *Invitation)
	DeleteInvitation(addr ids.ShortID)

	GetProposal(proposalID ids.ID) (*Proposal, error)
	PutProposal(proposalID ids.ID, proposal *Proposal)
	DeleteProposal(proposalID ids.ID) error
	// ProposalIDs returns every stored proposal ID in submission order.
	ProposalIDs() ([]ids.ID, error)

	HasApproved(proposalID ids.ID, owner ids.ShortID) (bool, error)
	AddApproval(proposalID ids.ID, owner ids.ShortID)
	RemoveApproval(proposalID ids.ID, owner ids.ShortID)
	Approvers(proposalID ids.ID) ([]ids.ShortID, error)
	ApprovalCount(proposalID ids.ID) (uint64, error)

	GetAddress() ids.ShortID
	SetAddress(addr ids.ShortID)
	GetQuorum() uint64
	SetQuorum(quorum uint64)
	GetNonce() uint64
	SetNonce(nonce uint64)
	GetBalance() uint64
	SetBalance(balance uint64)

	IsInitialized() (bool, error)
	MarkInitialized() error

	Commit() error
	Abort()
	Close() error
}

type approvalKey struct {
	proposalID ids.ID
	owner      ids.ShortID
}

func (k approvalKey) bytes() []byte {
	b := make([]byte, ids.IDLen+len(k.owner))
	copy(b, k.proposalID[:])
	copy(b[ids.IDLen:], k.owner[:])
	return b
}

type state struct {
	baseDB *versiondb.Database

	// Owner membership is loaded fully at construction and kept current in
	// memory; mutations are tracked for the next write.
	owners         set.Set[ids.ShortID]
	modifiedOwners map[ids.ShortID]bool // addr -> joined; false means left
	ownerDB        database.Database

	modifiedInvitations map[ids.ShortID]*Invitation            // nil means deleted
	invitationCache     cache.Cacher[ids.ShortID, *Invitation] // nil means not in the database
	invitationDB        database.Database

	modifiedProposals map[ids.ID]*Proposal            // nil means deleted
	proposalCache     cache.Cacher[ids.ID, *Proposal] // nil means not in the database
	proposalDB        database.Database

	addedProposalIndices   map[uint64]ids.ID // nonce -> proposalID
	deletedProposalIndices map[uint64]struct{}
	proposalIndexDB        database.Database

	modifiedApprovals map[approvalKey]bool // edge -> cast; false means revoked
	approvalDB        database.Database

	address, persistedAddress ids.ShortID
	quorum, persistedQuorum   uint64
	nonce, persistedNonce     uint64
	balance, persistedBalance uint64
	singletonDB               database.Database
}

func New(db database.Database) (State, error) {
	baseDB := versiondb.New(db)
	s := &state{
		baseDB: baseDB,

		owners:         set.NewSet[ids.ShortID](16),
		modifiedOwners: make(map[ids.ShortID]bool),
		ownerDB:        prefixdb.New(OwnerPrefix, baseDB),

		modifiedInvitations: make(map[ids.ShortID]*Invitation),
		invitationCache:     lru.NewCache[ids.ShortID, *Invitation](invitationCacheSize),
		invitationDB:        prefixdb.New(InvitationPrefix, baseDB),

		modifiedProposals: make(map[ids.ID]*Proposal),
		proposalCache:     lru.NewCache[ids.ID, *Proposal](proposalCacheSize),
		proposalDB:        prefixdb.New(ProposalPrefix, baseDB),

		addedProposalIndices:   make(map[uint64]ids.ID),
		deletedProposalIndices: make(map[uint64]struct{}),
		proposalIndexDB:        prefixdb.New(ProposalIndexPrefix, baseDB),

		modifiedApprovals: make(map[approvalKey]bool),
		approvalDB:        prefixdb.New(ApprovalPrefix, baseDB),

		singletonDB: prefixdb.New(SingletonPrefix, baseDB),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *state) IsOwner(addr ids.ShortID) bool {
	return s.owners.Contains(addr)
}

func (s *state) AddOwner(addr ids.ShortID) {
	s.owners.Add(addr)
	s.modifiedOwners[addr] = true
}

func (s *state) RemoveOwner(addr ids.ShortID) {
	s.owners.Remove(addr)
	s.modifiedOwners[addr] = false
}

func (s *state) OwnerCount() uint64 {
	return uint64(s.owners.Len())
}

func (s *state) Owners() []ids.ShortID {
	owners := s.owners.List()
	utils.Sort(owners)
	return owners
}

func (s *state) GetInvitation(addr ids.ShortID) (*Invitation, error) {
	if invitation, exists := s.modifiedInvitations[addr]; exists {
		if invitation == nil {
			return nil, database.ErrNotFound
		}
		return invitation, nil
	}
	if invitation, exists := s.invitationCache.Get(addr); exists {
		if invitation == nil {
			return nil, database.ErrNotFound
		}
		return invitation, nil
	}

	invitationBytes, err := s.invitationDB.Get(addr[:])
	if err == database.ErrNotFound {
		s.invitationCache.Put(addr, nil)
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	invitation := &Invitation{}
	if _, err := Codec.Unmarshal(invitationBytes, invitation); err != nil {
		return nil, err
	}
	s.invitationCache.Put(addr, invitation)
	return invitation, nil
}

func (s *state) PutInvitation(addr ids.ShortID, invitation *Invitation) {
	s.modifiedInvitations[addr] = invitation
}

func (s *state) DeleteInvitation(addr ids.ShortID) {
	s.modifiedInvitations[addr] = nil
}

func (s *state) GetProposal(proposalID ids.ID) (*Proposal, error) {
	if proposal, exists := s.modifiedProposals[proposalID]; exists {
		if proposal == nil {
			return nil, database.ErrNotFound
		}
		return proposal, nil
	}
	if proposal, exists := s.proposalCache.Get(proposalID); exists {
		if proposal == nil {
			return nil, database.ErrNotFound
		}
		return proposal, nil
	}

	proposalBytes, err := s.proposalDB.Get(proposalID[:])
	if err == database.ErrNotFound {
		s.proposalCache.Put(proposalID, nil)
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	proposal := &Proposal{}
	if _, err := Codec.Unmarshal(proposalBytes, proposal); err != nil {
		return nil, err
	}
	s.proposalCache.Put(proposalID, proposal)
	return proposal, nil
}

func (s *state) PutProposal(proposalID ids.ID, proposal *Proposal) {
	s.modifiedProposals[proposalID] = proposal
	s.addedProposalIndices[proposal.Nonce] = proposalID
	delete(s.deletedProposalIndices, proposal.Nonce)
}

func (s *state) DeleteProposal(proposalID ids.ID) error {
	proposal, err := s.GetProposal(proposalID)
	if err != nil {
		return err
	}
	approvers, err := s.Approvers(proposalID)
	if err != nil {
		return err
	}
	for _, owner := range approvers {
		s.modifiedApprovals[approvalKey{proposalID: proposalID, owner: owner}] = false
	}
	delete(s.addedProposalIndices, proposal.Nonce)
	s.deletedProposalIndices[proposal.Nonce] = struct{}{}
	s.modifiedProposals[proposalID] = nil
	return nil
}

func (s *state) ProposalIDs() ([]ids.ID, error) {
	byNonce := make(map[uint64]ids.ID, len(s.addedProposalIndices))

	it := s.proposalIndexDB.NewIterator()
	defer it.Release()
	for it.Next() {
		proposalID, err := ids.ToID(it.Value())
		if err != nil {
			return nil, err
		}
		byNonce[binary.BigEndian.Uint64(it.Key())] = proposalID
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	for nonce, proposalID := range s.addedProposalIndices {
		byNonce[nonce] = proposalID
	}
	for nonce := range s.deletedProposalIndices {
		delete(byNonce, nonce)
	}

	nonces := make([]uint64, 0, len(byNonce))
	for nonce := range byNonce {
		nonces = append(nonces, nonce)
	}
	slices.Sort(nonces)

	proposalIDs := make([]ids.ID, len(nonces))
	for i, nonce := range nonces {
		proposalIDs[i] = byNonce[nonce]
	}
	return proposalIDs, nil
}

func (s *state) HasApproved(proposalID ids.ID, owner ids.ShortID) (bool, error) {
	key := approvalKey{proposalID: proposalID, owner: owner}
	if cast, exists := s.modifiedApprovals[key]; exists {
		return cast, nil
	}
	return s.approvalDB.Has(key.bytes())
}

func (s *state) AddApproval(proposalID ids.ID, owner ids.ShortID) {
	s.modifiedApprovals[approvalKey{proposalID: proposalID, owner: owner}] = true
}

func (s *state) RemoveApproval(proposalID ids.ID, owner ids.ShortID) {
	s.modifiedApprovals[approvalKey{proposalID: proposalID, owner: owner}] = false
}

func (s *state) Approvers(proposalID ids.ID) ([]ids.ShortID, error) {
	approvers := set.NewSet[ids.ShortID](8)

	it := s.approvalDB.NewIteratorWithPrefix(proposalID[:])
	defer it.Release()
	for it.Next() {
		owner, err := ids.ToShortID(it.Key()[ids.IDLen:])
		if err != nil {
			return nil, err
		}
		approvers.Add(owner)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	for key, cast := range s.modifiedApprovals {
		if key.proposalID != proposalID {
			continue
		}
		if cast {
			approvers.Add(key.owner)
		} else {
			approvers.Remove(key.owner)
		}
	}

	list := approvers.List()
	utils.Sort(list)
	return list, nil
}

func (s *state) ApprovalCount(proposalID ids.ID) (uint64, error) {
	approvers, err := s.Approvers(proposalID)
	return uint64(len(approvers)), err
}

func (s *state) GetAddress() ids.ShortID {
	return s.address
}

func (s *state) SetAddress(addr ids.ShortID) {
	s.address = addr
}

func (s *state) GetQuorum() uint64 {
	return s.quorum
}

func (s *state) SetQuorum(quorum uint64) {
	s.quorum = quorum
}

func (s *state) GetNonce() uint64 {
	return s.nonce
}

func (s *state) SetNonce(nonce uint64) {
	s.nonce = nonce
}

func (s *state) GetBalance() uint64 {
	return s.balance
}

func (s *state) SetBalance(balance uint64) {
	s.balance = balance
}

func (s *state) IsInitialized() (bool, error) {
	return s.singletonDB.Has(InitializedKey)
}

func (s *state) MarkInitialized() error {
	return s.singletonDB.Put(InitializedKey, nil)
}

func (s *state) load() error {
	return errors.Join(
		s.loadOwners(),
		s.loadMetadata(),
	)
}

func (s *state) loadOwners() error {
	it := s.ownerDB.NewIterator()
	defer it.Release()
	for it.Next() {
		addr, err := ids.ToShortID(it.Key())
		if err != nil {
			return err
		}
		s.owners.Add(addr)
	}
	return it.Error()
}

func (s *state) loadMetadata() error {
	quorum, err := database.GetUInt64(s.singletonDB, QuorumKey)
	if err != nil && err != database.ErrNotFound {
		return err
	}
	s.quorum = quorum
	s.persistedQuorum = quorum

	nonce, err := database.GetUInt64(s.singletonDB, NonceKey)
	if err != nil && err != database.ErrNotFound {
		return err
	}
	s.nonce = nonce
	s.persistedNonce = nonce

	balance, err := database.GetUInt64(s.singletonDB, BalanceKey)
	if err != nil && err != database.ErrNotFound {
		return err
	}
	s.balance = balance
	s.persistedBalance = balance

	addressBytes, err := s.singletonDB.Get(AddressKey)
	if err != nil && err != database.ErrNotFound {
		return err
	}
	if err == nil {
		if s.address, err = ids.ToShortID(addressBytes); err != nil {
			return err
		}
		s.persistedAddress = s.address
	}
	return nil
}

func (s *state) write() error {
	return errors.Join(
		s.writeOwners(),
		s.writeInvitations(),
		s.writeProposals(),
		s.writeProposalIndices(),
		s.writeApprovals(),
		s.writeMetadata(),
	)
}

func (s *state) writeOwners() error {
	for addr, joined := range s.modifiedOwners {
		delete(s.modifiedOwners, addr)
		if joined {
			if err := s.ownerDB.Put(addr[:], nil); err != nil {
				return fmt.Errorf("failed to add owner: %w", err)
			}
		} else if err := s.ownerDB.Delete(addr[:]); err != nil {
			return fmt.Errorf("failed to remove owner: %w", err)
		}
	}
	return nil
}

func (s *state) writeInvitations() error {
	for addr, invitation := range s.modifiedInvitations {
		delete(s.modifiedInvitations, addr)
		s.invitationCache.Put(addr, invitation)
		if invitation == nil {
			if err := s.invitationDB.Delete(addr[:]); err != nil {
				return fmt.Errorf("failed to delete invitation: %w", err)
			}
			continue
		}
		invitationBytes, err := Codec.Marshal(CodecVersion, invitation)
		if err != nil {
			return fmt.Errorf("failed to serialize invitation: %w", err)
		}
		if err := s.invitationDB.Put(addr[:], invitationBytes); err != nil {
			return fmt.Errorf("failed to add invitation: %w", err)
		}
	}
	return nil
}

func (s *state) writeProposals() error {
	for proposalID, proposal := range s.modifiedProposals {
		delete(s.modifiedProposals, proposalID)
		s.proposalCache.Put(proposalID, proposal)
		if proposal == nil {
			if err := s.proposalDB.Delete(proposalID[:]); err != nil {
				return fmt.Errorf("failed to delete proposal: %w", err)
			}
			continue
		}
		proposalBytes, err := Codec.Marshal(CodecVersion, proposal)
		if err != nil {
			return fmt.Errorf("failed to serialize proposal: %w", err)
		}
		if err := s.proposalDB.Put(proposalID[:], proposalBytes); err != nil {
			return fmt.Errorf("failed to add proposal: %w", err)
		}
	}
	return nil
}

func (s *state) writeProposalIndices() error {
	for nonce, proposalID := range s.addedProposalIndices {
		delete(s.addedProposalIndices, nonce)
		if err := database.PutID(s.proposalIndexDB, database.PackUInt64(nonce), proposalID); err != nil {
			return fmt.Errorf("failed to add proposal index: %w", err)
		}
	}
	for nonce := range s.deletedProposalIndices {
		delete(s.deletedProposalIndices, nonce)
		if err := s.proposalIndexDB.Delete(database.PackUInt64(nonce)); err != nil {
			return fmt.Errorf("failed to delete proposal index: %w", err)
		}
	}
	return nil
}

func (s *state) writeApprovals() error {
	for key, cast := range s.modifiedApprovals {
		delete(s.modifiedApprovals, key)
		if cast {
			if err := s.approvalDB.Put(key.bytes(), nil); err != nil {
				return fmt.Errorf("failed to add approval: %w", err)
			}
		} else if err := s.approvalDB.Delete(key.bytes()); err != nil {
			return fmt.Errorf("failed to remove approval: %w", err)
		}
	}
	return nil
}

func (s *state) writeMetadata() error {
	if s.persistedAddress != s.address {
		if err := s.singletonDB.Put(AddressKey, s.address[:]); err != nil {
			return fmt.Errorf("failed to write address: %w", err)
		}
		s.persistedAddress = s.address
	}
	if s.persistedQuorum != s.quorum {
		if err := database.PutUInt64(s.singletonDB, QuorumKey, s.quorum); err != nil {
			return fmt.Errorf("failed to write quorum: %w", err)
		}
		s.persistedQuorum = s.quorum
	}
	if s.persistedNonce != s.nonce {
		if err := database.PutUInt64(s.singletonDB, NonceKey, s.nonce); err != nil {
			return fmt.Errorf("failed to write nonce: %w", err)
		}
		s.persistedNonce = s.nonce
	}
	if s.persistedBalance != s.balance {
		if err := database.PutUInt64(s.singletonDB, BalanceKey, s.balance); err != nil {
			return fmt.Errorf("failed to write balance: %w", err)
		}
		s.persistedBalance = s.balance
	}
	return nil
}

func (s *state) Commit() error {
	defer s.Abort()
	batch, err := s.CommitBatch()
	if err != nil {
		return err
	}
	return batch.Write()
}

func (s *state) Abort() {
	s.baseDB.Abort()
}

// CommitBatch flushes the buffered mutations into the version layer and
// returns the batch that applies them to the underlying database.
func (s *state) CommitBatch() (database.Batch, error) {
	if err := s.write(); err != nil {
		return nil, err
	}
	return s.baseDB.CommitBatch()
}

func (s *state) Close() error {
	return s.baseDB.Close()
}
