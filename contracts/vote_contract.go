/*
 * Vote Contract - Hyperledger Fabric Chaincode for Sealed Voting
 *
 * Voters and candidates are Ed25519 identities. Every operation arrives
 * signed by the identity it concerns; cast votes are sealed with the
 * peer's transport key before they are written:
 * - Submit / RegisterCandidate / RegisterVoter / CastVote: signed operations
 * - GetCandidate(s) / GetVoter(s) / GetSealedBallots: entity listings
 * - GetTally / GetTallies / GetServiceKey: sealed tallies and the key to open them
 * - GetDisclosedTallies: plaintext tallies, restricted to authorized clients
 * - GetVoteReceipt: where and when a voter's ballot was recorded
 */

package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"go.uber.org/zap"

	"github.com/voting/chaincode/sealedvote/agreement"
	"github.com/voting/chaincode/sealedvote/queries"
	"github.com/voting/chaincode/sealedvote/schema"
	"github.com/voting/chaincode/sealedvote/sealing"
	"github.com/voting/chaincode/sealedvote/transactions"
)

// DisclosureAttribute is the client certificate attribute that allows reading
// disclosed tallies.
const DisclosureAttribute = "sealedvote.disclose"

// Event names
const (
	EventCandidateRegistered = "CandidateRegistered"
	EventVoterRegistered     = "VoterRegistered"
	EventVoteCast            = "VoteCast"
)

// VoteContract implements the voting chaincode
type VoteContract struct {
	contractapi.Contract

	keys    *agreement.KeyState
	service *transactions.Service
	logger  *zap.Logger
}

// NewVoteContract creates a contract sealing ballots with keys.
func NewVoteContract(keys *agreement.KeyState, logger *zap.Logger) *VoteContract {
	if logger == nil {
		logger = zap.NewNop()
	}
	sealer := sealing.NewBallotSealer(keys)
	return &VoteContract{
		keys:    keys,
		service: transactions.NewService(sealer, logger.Named("transactions")),
		logger:  logger,
	}
}

// CandidateRecord is a registered candidate
type CandidateRecord struct {
	PubKey string `json:"pub_key"`
	Name   string `json:"name"`
	Info   string `json:"info"`
}

// VoterRecord is a registered voter
type VoterRecord struct {
	PubKey string `json:"pub_key"`
	Name   string `json:"name"`
}

// SealedBallotRecord is a stored ballot ciphertext
type SealedBallotRecord struct {
	Data string `json:"data"`
}

// TallyRecord is a candidate's sealed tally
type TallyRecord struct {
	Candidate string   `json:"candidate"`
	Votes     []string `json:"votes"`
	VoteNum   uint64   `json:"vote_num"`
	Root      string   `json:"root"`
}

// TallyReport lists every sealed tally with the service public key
type TallyReport struct {
	ServicePublicKey string        `json:"service_public_key"`
	Results          []TallyRecord `json:"results"`
}

// DisclosedBallotRecord is an opened ballot or the reason it failed to open
type DisclosedBallotRecord struct {
	From  string `json:"from,omitempty" metadata:",optional"`
	To    string `json:"to,omitempty" metadata:",optional"`
	Error string `json:"error,omitempty" metadata:",optional"`
}

// DisclosedTallyRecord is a candidate's tally in plaintext
type DisclosedTallyRecord struct {
	Candidate string                  `json:"candidate"`
	Votes     []DisclosedBallotRecord `json:"votes"`
	VoteNum   uint64                  `json:"vote_num"`
}

// SubmitReceipt is returned after an operation is applied
type SubmitReceipt struct {
	TxHash           string `json:"tx_hash"`
	Kind             string `json:"kind"`
	TxID             string `json:"tx_id"`
	BallotHash       string `json:"ballot_hash,omitempty" metadata:",optional"`
	VerificationCode string `json:"verification_code,omitempty" metadata:",optional"`
	Timestamp        string `json:"timestamp"`
}

// VoteReceiptRecord tells a voter where their ballot was recorded
type VoteReceiptRecord struct {
	Voter            string `json:"voter"`
	BallotHash       string `json:"ballot_hash"`
	TxID             string `json:"tx_id"`
	VerificationCode string `json:"verification_code"`
	Timestamp        string `json:"timestamp"`
}

// InitLedger fails unless the transport key has been set up
func (v *VoteContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	public, err := v.keys.PublicOutKey()
	if err != nil {
		return fmt.Errorf("vote contract is not ready: %w", err)
	}
	v.logger.Info("vote contract initialized", zap.String("service_public_key", hexutil.Encode(public)))
	return nil
}

// Submit executes a signed operation envelope:
// {"kind": "...", "body": {...}, "signature": "0x..."}
func (v *VoteContract) Submit(ctx contractapi.TransactionContextInterface, envelope string) (*SubmitReceipt, error) {
	tx, err := transactions.Decode([]byte(envelope))
	if err != nil {
		return nil, err
	}
	return v.execute(ctx, tx)
}

// RegisterCandidate registers a candidate signed by the candidate's own key
func (v *VoteContract) RegisterCandidate(
	ctx contractapi.TransactionContextInterface,
	pubKey string,
	name string,
	info string,
	signature string,
) (*SubmitReceipt, error) {
	id, err := schema.ParseIdentity(pubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid candidate key: %w", err)
	}
	return v.executeSigned(ctx, transactions.RegisterCandidate{PubKey: id, Name: name, Info: info}, signature)
}

// RegisterVoter registers a voter signed by the voter's own key
func (v *VoteContract) RegisterVoter(
	ctx contractapi.TransactionContextInterface,
	pubKey string,
	name string,
	signature string,
) (*SubmitReceipt, error) {
	id, err := schema.ParseIdentity(pubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid voter key: %w", err)
	}
	return v.executeSigned(ctx, transactions.RegisterVoter{PubKey: id, Name: name}, signature)
}

// CastVote records a sealed ballot; the operation is signed by the voter
func (v *VoteContract) CastVote(
	ctx contractapi.TransactionContextInterface,
	voterID string,
	candidateID string,
	signature string,
) (*SubmitReceipt, error) {
	voter, err := schema.ParseIdentity(voterID)
	if err != nil {
		return nil, fmt.Errorf("invalid voter key: %w", err)
	}
	candidate, err := schema.ParseIdentity(candidateID)
	if err != nil {
		return nil, fmt.Errorf("invalid candidate key: %w", err)
	}
	return v.executeSigned(ctx, transactions.CastVote{Voter: voter, Candidate: candidate}, signature)
}

func (v *VoteContract) executeSigned(
	ctx contractapi.TransactionContextInterface,
	op transactions.Operation,
	signature string,
) (*SubmitReceipt, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	return v.execute(ctx, &transactions.Signed{Op: op, Signature: sig})
}

func (v *VoteContract) execute(ctx contractapi.TransactionContextInterface, tx *transactions.Signed) (*SubmitReceipt, error) {
	stub := ctx.GetStub()
	txID := stub.GetTxID()

	// 1. Verify before touching state
	if err := tx.Verify(); err != nil {
		return nil, err
	}

	// 2. Execute; a returned error fails the transaction and drops every write
	view := stubView{stub: stub}
	res, err := v.service.Execute(view, tx)
	if err != nil {
		if e, ok := transactions.AsExecutionError(err); ok {
			if e.Fatal() {
				v.logger.Error("fatal execution error", zap.String("tx_id", txID), zap.Error(err))
			}
			return nil, fmt.Errorf("%s rejected with code %d: %w", tx.Op.Kind(), e.Code, err)
		}
		return nil, err
	}

	txTimestamp, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, fmt.Errorf("failed to get timestamp: %w", err)
	}
	timestamp := time.Unix(txTimestamp.Seconds, int64(txTimestamp.Nanos)).UTC()

	receipt := &SubmitReceipt{
		TxHash:    res.Hash.String(),
		Kind:      res.Kind.String(),
		TxID:      txID,
		Timestamp: timestamp.Format(time.RFC3339Nano),
	}

	// 3. Record the vote receipt and emit the event
	var event string
	payload := map[string]string{
		"txHash": receipt.TxHash,
		"txId":   txID,
	}
	switch op := tx.Op.(type) {
	case transactions.RegisterCandidate:
		event = EventCandidateRegistered
		payload["candidate"] = op.PubKey.String()
	case transactions.RegisterVoter:
		event = EventVoterRegistered
		payload["voter"] = op.PubKey.String()
	case transactions.CastVote:
		event = EventVoteCast
		ballotHash := res.Ballot.Hash()
		receipt.BallotHash = ballotHash.String()
		receipt.VerificationCode = generateVerificationCode(txID, ballotHash.Hex())

		err := schema.NewMutable(view).PutReceipt(schema.VoteReceipt{
			Voter:      op.Voter,
			BallotHash: ballotHash,
			TxID:       txID,
			Timestamp:  timestamp.Unix(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store vote receipt: %w", err)
		}
		payload["ballotHash"] = receipt.BallotHash
	}

	eventJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if err := stub.SetEvent(event, eventJSON); err != nil {
		return nil, fmt.Errorf("failed to emit event: %w", err)
	}

	return receipt, nil
}

func (v *VoteContract) reader(ctx contractapi.TransactionContextInterface) *queries.Reader {
	return queries.NewReader(stubView{stub: ctx.GetStub()})
}

// GetCandidate retrieves a candidate by public key
func (v *VoteContract) GetCandidate(ctx contractapi.TransactionContextInterface, pubKey string) (*CandidateRecord, error) {
	id, err := schema.ParseIdentity(pubKey)
	if err != nil {
		return nil, err
	}
	c, err := v.reader(ctx).Candidate(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("candidate %s not found", id)
	}
	return candidateRecord(*c), nil
}

// GetCandidates lists all candidates
func (v *VoteContract) GetCandidates(ctx contractapi.TransactionContextInterface) ([]CandidateRecord, error) {
	candidates, err := v.reader(ctx).ListCandidates()
	if err != nil {
		return nil, err
	}
	out := make([]CandidateRecord, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, *candidateRecord(c))
	}
	return out, nil
}

// GetVoter retrieves a voter by public key
func (v *VoteContract) GetVoter(ctx contractapi.TransactionContextInterface, pubKey string) (*VoterRecord, error) {
	id, err := schema.ParseIdentity(pubKey)
	if err != nil {
		return nil, err
	}
	voter, err := v.reader(ctx).Voter(id)
	if err != nil {
		return nil, err
	}
	if voter == nil {
		return nil, fmt.Errorf("voter %s not found", id)
	}
	return voterRecord(*voter), nil
}

// GetVoters lists all voters
func (v *VoteContract) GetVoters(ctx contractapi.TransactionContextInterface) ([]VoterRecord, error) {
	voters, err := v.reader(ctx).ListVoters()
	if err != nil {
		return nil, err
	}
	out := make([]VoterRecord, 0, len(voters))
	for _, voter := range voters {
		out = append(out, *voterRecord(voter))
	}
	return out, nil
}

// GetSealedBallots lists every stored ballot ciphertext
func (v *VoteContract) GetSealedBallots(ctx contractapi.TransactionContextInterface) ([]SealedBallotRecord, error) {
	ballots, err := v.reader(ctx).ListSealedBallots()
	if err != nil {
		return nil, err
	}
	out := make([]SealedBallotRecord, 0, len(ballots))
	for _, b := range ballots {
		out = append(out, SealedBallotRecord{Data: b.Data.String()})
	}
	return out, nil
}

// GetTally retrieves the sealed tally of one candidate
func (v *VoteContract) GetTally(ctx contractapi.TransactionContextInterface, candidateID string) (*TallyRecord, error) {
	id, err := schema.ParseIdentity(candidateID)
	if err != nil {
		return nil, err
	}
	t, err := v.reader(ctx).CandidateTally(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("tally not found for candidate %s", id)
	}
	return tallyRecord(*t), nil
}

// GetTallies lists every sealed tally together with the service public key
func (v *VoteContract) GetTallies(ctx contractapi.TransactionContextInterface) (*TallyReport, error) {
	report, err := v.reader(ctx).AllTallies(v.keys)
	if err != nil {
		return nil, err
	}
	out := &TallyReport{
		ServicePublicKey: report.ServicePublicKey.String(),
		Results:          make([]TallyRecord, 0, len(report.Tallies)),
	}
	for _, t := range report.Tallies {
		out.Results = append(out.Results, *tallyRecord(t))
	}
	return out, nil
}

// GetDisclosedTallies opens every tally. Only clients whose certificate
// carries sealedvote.disclose=true may call it.
func (v *VoteContract) GetDisclosedTallies(ctx contractapi.TransactionContextInterface) ([]DisclosedTallyRecord, error) {
	identity := ctx.GetClientIdentity()
	if identity == nil {
		return nil, errors.New("client identity unavailable")
	}
	if err := identity.AssertAttributeValue(DisclosureAttribute, "true"); err != nil {
		return nil, fmt.Errorf("disclosure not permitted: %w", err)
	}

	disclosed, err := v.reader(ctx).Disclose(v.keys)
	if err != nil {
		return nil, err
	}
	out := make([]DisclosedTallyRecord, 0, len(disclosed))
	for _, d := range disclosed {
		rec := DisclosedTallyRecord{
			Candidate: d.Candidate.String(),
			Votes:     make([]DisclosedBallotRecord, 0, len(d.Ballots)),
			VoteNum:   d.Count,
		}
		for _, b := range d.Ballots {
			if b.Ballot == nil {
				rec.Votes = append(rec.Votes, DisclosedBallotRecord{Error: b.Error})
				continue
			}
			rec.Votes = append(rec.Votes, DisclosedBallotRecord{From: b.Ballot.From.String(), To: b.Ballot.To.String()})
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetVoteReceipt retrieves the receipt of a voter's ballot
func (v *VoteContract) GetVoteReceipt(ctx contractapi.TransactionContextInterface, voterID string) (*VoteReceiptRecord, error) {
	id, err := schema.ParseIdentity(voterID)
	if err != nil {
		return nil, err
	}
	r, err := v.reader(ctx).VoteReceipt(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("vote receipt not found for voter %s", id)
	}
	return &VoteReceiptRecord{
		Voter:            r.Voter.String(),
		BallotHash:       r.BallotHash.String(),
		TxID:             r.TxID,
		VerificationCode: generateVerificationCode(r.TxID, r.BallotHash.Hex()),
		Timestamp:        time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
	}, nil
}

// GetServiceKey returns this peer's ephemeral public key
func (v *VoteContract) GetServiceKey(ctx contractapi.TransactionContextInterface) (string, error) {
	public, err := v.keys.PublicOutKey()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(public), nil
}

// Helper functions

func candidateRecord(c schema.Candidate) *CandidateRecord {
	return &CandidateRecord{PubKey: c.PubKey.String(), Name: c.Name, Info: c.Info}
}

func voterRecord(v schema.Voter) *VoterRecord {
	return &VoterRecord{PubKey: v.PubKey.String(), Name: v.Name}
}

func tallyRecord(t schema.CandidateTally) *TallyRecord {
	votes := make([]string, 0, len(t.Ballots))
	for _, b := range t.Ballots {
		votes = append(votes, b.Data.String())
	}
	return &TallyRecord{
		Candidate: t.Candidate.String(),
		Votes:     votes,
		VoteNum:   t.Count,
		Root:      computeTallyRoot(t.Ballots),
	}
}

func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

func generateVerificationCode(txID, hash string) string {
	combined := txID + hash
	h := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(h[:8]) // 16 character code
}

// computeTallyRoot is a pairwise SHA-256 root over the ballot hashes, in tally order.
func computeTallyRoot(ballots []schema.SealedBallot) string {
	if len(ballots) == 0 {
		return ""
	}

	hashes := make([]string, len(ballots))
	for i, b := range ballots {
		hashes[i] = b.Hash().Hex()
	}

	for len(hashes) > 1 {
		var next []string
		for i := 0; i < len(hashes); i += 2 {
			if i+1 < len(hashes) {
				next = append(next, hashString(hashes[i]+hashes[i+1]))
			} else {
				next = append(next, hashes[i])
			}
		}
		hashes = next
	}

	return hashes[0]
}
