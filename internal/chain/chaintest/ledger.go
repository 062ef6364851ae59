// Package chaintest provides an in-memory ledger implementing the chain
// Gateway, with enough factory/treasury/token semantics to run the workflow
// suites without a node.
package chaintest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"zakobox-go/internal/chain"
	"zakobox-go/internal/derive"
	"zakobox-go/internal/treasury"
)

// CallRecord notes one network touch, so tests can assert that guard
// failures make none.
type CallRecord struct {
	Kind   string // "view" or "submit"
	To     common.Address
	Method string
}

type proposalState struct {
	treasury.Proposal
	approvedBy map[common.Address]bool
}

type treasuryState struct {
	config     treasury.Config
	info       treasury.Info
	ethBalance *big.Int
	donations  map[common.Address]*big.Int
	proposals  []*proposalState
	paused     bool
}

type tokenState struct {
	name       string
	symbol     string
	decimals   uint8
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// Ledger is the fake execution environment. Submitted calls execute
// immediately; their outcome is observed through AwaitFinality, mirroring the
// real gateway's submit-then-finality split.
type Ledger struct {
	mu sync.Mutex

	chainID        *big.Int
	factory        common.Address
	implementation common.Address

	treasuries map[common.Address]*treasuryState
	order      []common.Address
	byDeployer map[common.Address][]common.Address
	tokens     map[common.Address]*tokenState

	receipts map[common.Hash]*types.Receipt
	nonce    uint64

	calls      []CallRecord
	failSubmit error
	failView   map[string]error
}

func NewLedger() *Ledger {
	return &Ledger{
		chainID:        big.NewInt(31337),
		factory:        common.HexToAddress("0x00000000000000000000000000000000000Fac70"),
		implementation: common.HexToAddress("0x000000000000000000000000000000000000beef"),
		treasuries:     make(map[common.Address]*treasuryState),
		byDeployer:     make(map[common.Address][]common.Address),
		tokens:         make(map[common.Address]*tokenState),
		receipts:       make(map[common.Hash]*types.Receipt),
		failView:       make(map[string]error),
	}
}

// Factory returns the factory contract address treasuries deploy through.
func (l *Ledger) Factory() common.Address { return l.factory }

// RegisterToken installs a fungible token contract.
func (l *Ledger) RegisterToken(addr common.Address, name, symbol string, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[addr] = &tokenState{
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits a holder with token balance.
func (l *Ledger) Mint(token, holder common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tokens[token]
	t.balances[holder] = add(t.balances[holder], amount)
}

// SetPaused toggles a treasury's paused flag.
func (l *Ledger) SetPaused(addr common.Address, paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tr, ok := l.treasuries[addr]; ok {
		tr.paused = paused
	}
}

// Calls returns every recorded network touch.
func (l *Ledger) Calls() []CallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CallRecord, len(l.calls))
	copy(out, l.calls)
	return out
}

// ResetCalls clears the recorded call log.
func (l *Ledger) ResetCalls() {
	l.mu.Lock()
	l.calls = nil
	l.mu.Unlock()
}

// FailNextSubmit makes the next Submit fail before execution.
func (l *Ledger) FailNextSubmit(err error) {
	l.mu.Lock()
	l.failSubmit = err
	l.mu.Unlock()
}

// FailView makes every view of the named method fail until cleared.
func (l *Ledger) FailView(method string, err error) {
	l.mu.Lock()
	if err == nil {
		delete(l.failView, method)
	} else {
		l.failView[method] = err
	}
	l.mu.Unlock()
}

func (l *Ledger) ChainID() *big.Int { return new(big.Int).Set(l.chainID) }

func (l *Ledger) CallView(_ context.Context, call chain.Call) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	method, inputs, err := l.resolve(call)
	name := "unknown"
	if method != nil {
		name = method.Name
	}
	l.calls = append(l.calls, CallRecord{Kind: "view", To: call.To, Method: name})
	if err != nil {
		return nil, &chain.QueryError{Op: name, Err: err}
	}
	if failErr, ok := l.failView[name]; ok {
		return nil, &chain.QueryError{Op: name, Err: failErr}
	}

	out, err := l.execute(call.To, common.Address{}, method, inputs, nil)
	if err != nil {
		return nil, &chain.QueryError{Op: name, Err: err}
	}
	packed, err := method.Outputs.Pack(out...)
	if err != nil {
		return nil, &chain.QueryError{Op: name, Err: err}
	}
	return packed, nil
}

func (l *Ledger) Submit(ctx context.Context, signer chain.Signer, call chain.Call) (common.Hash, error) {
	// Exercise the wallet's transaction signing path so declining providers
	// behave the same as against a real node.
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID: l.chainID,
		Gas:     21000,
		To:      &call.To,
		Value:   call.Value,
		Data:    call.Data,
	})
	if _, err := signer.SignTx(ctx, tx, l.chainID); err != nil {
		if errors.Is(err, chain.ErrSigningDeclined) {
			return common.Hash{}, err
		}
		return common.Hash{}, &chain.SubmissionError{Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var method *abi.Method
	var inputs []interface{}
	var resolveErr error
	name := "transfer"
	if len(call.Data) > 0 {
		method, inputs, resolveErr = l.resolve(call)
		if method != nil {
			name = method.Name
		}
	}
	l.calls = append(l.calls, CallRecord{Kind: "submit", To: call.To, Method: name})

	if l.failSubmit != nil {
		err := l.failSubmit
		l.failSubmit = nil
		return common.Hash{}, &chain.SubmissionError{Err: err}
	}
	if resolveErr != nil {
		return common.Hash{}, &chain.SubmissionError{Err: resolveErr}
	}

	l.nonce++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.nonce)
	hash := crypto.Keccak256Hash(signer.Address().Bytes(), seq[:])

	status := types.ReceiptStatusSuccessful
	if _, err := l.execute(call.To, signer.Address(), method, inputs, call.Value); err != nil {
		status = types.ReceiptStatusFailed
	}
	l.receipts[hash] = &types.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(int64(l.nonce))}
	return hash, nil
}

func (l *Ledger) AwaitFinality(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	receipt, ok := l.receipts[hash]
	l.mu.Unlock()
	if !ok {
		return nil, &chain.SubmissionError{Err: fmt.Errorf("unknown transaction %s", hash.Hex())}
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, &chain.RevertError{Tx: hash}
	}
	return receipt, nil
}

// resolve maps calldata to an ABI method of the target contract.
func (l *Ledger) resolve(call chain.Call) (*abi.Method, []interface{}, error) {
	if len(call.Data) == 0 {
		return nil, nil, nil
	}
	if len(call.Data) < 4 {
		return nil, nil, errors.New("calldata too short")
	}

	var contractABI abi.ABI
	switch {
	case call.To == l.factory:
		contractABI = chain.FactoryABI
	case l.tokens[call.To] != nil:
		contractABI = chain.ERC20ABI
	case l.treasuries[call.To] != nil:
		contractABI = chain.TreasuryABI
	default:
		return nil, nil, fmt.Errorf("no contract at %s", call.To.Hex())
	}

	method, err := contractABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, nil, err
	}
	inputs, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return method, nil, err
	}
	return method, inputs, nil
}

func (l *Ledger) execute(to, from common.Address, method *abi.Method, inputs []interface{}, value *big.Int) ([]interface{}, error) {
	switch {
	case to == l.factory:
		return l.execFactory(from, method, inputs)
	case l.tokens[to] != nil:
		return l.execToken(l.tokens[to], from, method, inputs)
	case l.treasuries[to] != nil:
		if method == nil {
			// Plain value transfer hits the treasury's receive path.
			return nil, l.receiveNative(l.treasuries[to], value)
		}
		return l.execTreasury(to, from, method, inputs)
	default:
		return nil, fmt.Errorf("no contract at %s", to.Hex())
	}
}

func (l *Ledger) execFactory(from common.Address, method *abi.Method, inputs []interface{}) ([]interface{}, error) {
	switch method.Name {
	case "createTreasury":
		addr, err := l.createTreasury(from, inputs[0].([32]byte), toConfig(inputs[1]), inputs[2].(string), inputs[3].(string))
		if err != nil {
			return nil, err
		}
		return []interface{}{addr}, nil

	case "createTreasuryBatch":
		salts := inputs[0].([][32]byte)
		rawConfigs := inputs[1]
		names := inputs[2].([]string)
		descriptions := inputs[3].([]string)
		configs := toConfigSlice(rawConfigs)
		if len(salts) != len(configs) || len(configs) != len(names) || len(names) != len(descriptions) {
			return nil, errors.New("length mismatch")
		}
		// All-or-nothing: validate and resolve every entry before any commit.
		addrs := make([]common.Address, len(salts))
		for i := range salts {
			if err := configs[i].Validate(); err != nil {
				return nil, err
			}
			addr := l.treasuryAddress(salts[i], configs[i])
			if _, exists := l.treasuries[addr]; exists {
				return nil, errors.New("treasury already deployed")
			}
			for j := 0; j < i; j++ {
				if addrs[j] == addr {
					return nil, errors.New("duplicate deployment in batch")
				}
			}
			addrs[i] = addr
		}
		for i := range salts {
			if _, err := l.createTreasury(from, salts[i], configs[i], names[i], descriptions[i]); err != nil {
				return nil, err
			}
		}
		return []interface{}{addrs}, nil

	case "computeTreasuryAddress":
		return []interface{}{l.treasuryAddress(inputs[0].([32]byte), toConfig(inputs[1]))}, nil

	case "getTreasuryCount":
		return []interface{}{big.NewInt(int64(len(l.order)))}, nil

	case "getTreasuryByIndex":
		index := inputs[0].(*big.Int).Uint64()
		if index >= uint64(len(l.order)) {
			return nil, errors.New("index out of range")
		}
		return []interface{}{l.order[index]}, nil

	case "getTreasuriesByDeployer":
		deployer := inputs[0].(common.Address)
		return []interface{}{append([]common.Address{}, l.byDeployer[deployer]...)}, nil

	case "getTreasuryInfo":
		tr, ok := l.treasuries[inputs[0].(common.Address)]
		if !ok {
			return nil, errors.New("unknown treasury")
		}
		return []interface{}{tr.info}, nil

	case "implementation":
		return []interface{}{l.implementation}, nil
	}
	return nil, fmt.Errorf("factory: unknown method %s", method.Name)
}

func (l *Ledger) createTreasury(from common.Address, salt [32]byte, cfg treasury.Config, name, description string) (common.Address, error) {
	if err := cfg.Validate(); err != nil {
		return common.Address{}, err
	}
	addr := l.treasuryAddress(salt, cfg)
	if _, exists := l.treasuries[addr]; exists {
		return common.Address{}, errors.New("treasury already deployed")
	}

	l.treasuries[addr] = &treasuryState{
		config: cfg,
		info: treasury.Info{
			Name:        name,
			Description: description,
			Deployer:    from,
			CreatedAt:   big.NewInt(time.Now().Unix()),
		},
		ethBalance: big.NewInt(0),
		donations:  make(map[common.Address]*big.Int),
	}
	l.order = append(l.order, addr)
	l.byDeployer[from] = append(l.byDeployer[from], addr)
	return addr, nil
}

// treasuryAddress applies the factory's CREATE2 rule: the init code commits
// to the configuration, so both salt and config feed the address.
func (l *Ledger) treasuryAddress(salt [32]byte, cfg treasury.Config) common.Address {
	packed, err := chain.PackTreasuryConfig(cfg)
	if err != nil {
		panic(err)
	}
	return derive.Create2Address(l.factory, common.Hash(salt), crypto.Keccak256Hash(packed))
}

func (l *Ledger) execToken(t *tokenState, from common.Address, method *abi.Method, inputs []interface{}) ([]interface{}, error) {
	switch method.Name {
	case "name":
		return []interface{}{t.name}, nil
	case "symbol":
		return []interface{}{t.symbol}, nil
	case "decimals":
		return []interface{}{t.decimals}, nil
	case "balanceOf":
		return []interface{}{amountOf(t.balances[inputs[0].(common.Address)])}, nil
	case "allowance":
		owner := inputs[0].(common.Address)
		spender := inputs[1].(common.Address)
		return []interface{}{amountOf(t.allowances[owner][spender])}, nil
	case "approve":
		spender := inputs[0].(common.Address)
		amount := inputs[1].(*big.Int)
		if t.allowances[from] == nil {
			t.allowances[from] = make(map[common.Address]*big.Int)
		}
		t.allowances[from][spender] = new(big.Int).Set(amount)
		return []interface{}{true}, nil
	}
	return nil, fmt.Errorf("token: unknown method %s", method.Name)
}

func (l *Ledger) receiveNative(tr *treasuryState, value *big.Int) error {
	if tr.paused {
		return errors.New("treasury paused")
	}
	if value == nil || value.Sign() <= 0 {
		return errors.New("no value")
	}
	tr.ethBalance = add(tr.ethBalance, value)
	tr.donations[chain.NativeAsset] = add(tr.donations[chain.NativeAsset], value)
	return nil
}

func (l *Ledger) execTreasury(addr common.Address, from common.Address, method *abi.Method, inputs []interface{}) ([]interface{}, error) {
	tr := l.treasuries[addr]

	switch method.Name {
	case "getBalance":
		token := inputs[0].(common.Address)
		if chain.IsNative(token) {
			return []interface{}{new(big.Int).Set(tr.ethBalance)}, nil
		}
		t, ok := l.tokens[token]
		if !ok {
			return nil, errors.New("unknown token")
		}
		return []interface{}{amountOf(t.balances[addr])}, nil

	case "getTotalDonations":
		return []interface{}{amountOf(tr.donations[inputs[0].(common.Address)])}, nil

	case "proposalCount":
		return []interface{}{big.NewInt(int64(len(tr.proposals)))}, nil

	case "getWithdrawalProposal":
		p, err := tr.proposal(inputs[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return []interface{}{p.Proposal}, nil

	case "hasApproved":
		p, err := tr.proposal(inputs[0].(*big.Int))
		if err != nil {
			return nil, err
		}
		return []interface{}{p.approvedBy[inputs[1].(common.Address)]}, nil

	case "isOwner":
		return []interface{}{tr.isOwner(inputs[0].(common.Address))}, nil

	case "threshold":
		return []interface{}{new(big.Int).Set(tr.config.Threshold)}, nil

	case "emergencyThreshold":
		return []interface{}{amountOf(tr.config.EmergencyThreshold)}, nil

	case "paused":
		return []interface{}{tr.paused}, nil

	case "donate":
		return nil, l.donate(addr, tr, from, inputs[0].(common.Address), inputs[1].(*big.Int))

	case "proposeWithdrawal":
		id, err := l.propose(tr, from, inputs[0].(common.Address), inputs[1].(common.Address), inputs[2].(*big.Int), inputs[3].(string))
		if err != nil {
			return nil, err
		}
		return []interface{}{id}, nil

	case "approveWithdrawal":
		return nil, tr.approve(from, inputs[0].(*big.Int))

	case "executeWithdrawal":
		return nil, l.executeWithdrawal(addr, tr, from, inputs[0].(*big.Int))
	}
	return nil, fmt.Errorf("treasury: unknown method %s", method.Name)
}

func (l *Ledger) donate(addr common.Address, tr *treasuryState, from, token common.Address, amount *big.Int) error {
	if tr.paused {
		return errors.New("treasury paused")
	}
	t, ok := l.tokens[token]
	if !ok {
		return errors.New("unknown token")
	}
	if amountOf(t.allowances[from][addr]).Cmp(amount) < 0 {
		return errors.New("insufficient allowance")
	}
	if amountOf(t.balances[from]).Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	t.allowances[from][addr] = new(big.Int).Sub(t.allowances[from][addr], amount)
	t.balances[from] = new(big.Int).Sub(t.balances[from], amount)
	t.balances[addr] = add(t.balances[addr], amount)
	tr.donations[token] = add(tr.donations[token], amount)
	return nil
}

func (l *Ledger) propose(tr *treasuryState, from, token, recipient common.Address, amount *big.Int, description string) (*big.Int, error) {
	if tr.paused {
		return nil, errors.New("treasury paused")
	}
	if !tr.isOwner(from) {
		return nil, errors.New("not an owner")
	}
	if len(tr.config.WhitelistedTokens) > 0 && !contains(tr.config.WhitelistedTokens, token) {
		return nil, errors.New("token not whitelisted")
	}
	if len(tr.config.WhitelistedRecipients) > 0 && !contains(tr.config.WhitelistedRecipients, recipient) {
		return nil, errors.New("recipient not whitelisted")
	}

	tr.proposals = append(tr.proposals, &proposalState{
		Proposal: treasury.Proposal{
			Token:         token,
			Recipient:     recipient,
			Amount:        new(big.Int).Set(amount),
			Description:   description,
			ApprovalCount: big.NewInt(0),
			ProposedAt:    big.NewInt(time.Now().Unix()),
		},
		approvedBy: make(map[common.Address]bool),
	})
	return big.NewInt(int64(len(tr.proposals) - 1)), nil
}

func (tr *treasuryState) approve(from common.Address, id *big.Int) error {
	if tr.paused {
		return errors.New("treasury paused")
	}
	if !tr.isOwner(from) {
		return errors.New("not an owner")
	}
	p, err := tr.proposal(id)
	if err != nil {
		return err
	}
	if p.Executed {
		return errors.New("already executed")
	}
	if p.approvedBy[from] {
		return errors.New("already approved")
	}
	p.approvedBy[from] = true
	p.ApprovalCount = new(big.Int).Add(p.ApprovalCount, big.NewInt(1))
	return nil
}

func (l *Ledger) executeWithdrawal(addr common.Address, tr *treasuryState, from common.Address, id *big.Int) error {
	if tr.paused {
		return errors.New("treasury paused")
	}
	if !tr.isOwner(from) {
		return errors.New("not an owner")
	}
	p, err := tr.proposal(id)
	if err != nil {
		return err
	}
	if p.Executed {
		return errors.New("already executed")
	}
	if p.ApprovalCount.Cmp(tr.config.Threshold) < 0 {
		return errors.New("threshold not met")
	}

	if chain.IsNative(p.Token) {
		if tr.ethBalance.Cmp(p.Amount) < 0 {
			return errors.New("insufficient balance")
		}
		tr.ethBalance = new(big.Int).Sub(tr.ethBalance, p.Amount)
	} else {
		t, ok := l.tokens[p.Token]
		if !ok {
			return errors.New("unknown token")
		}
		if amountOf(t.balances[addr]).Cmp(p.Amount) < 0 {
			return errors.New("insufficient balance")
		}
		t.balances[addr] = new(big.Int).Sub(t.balances[addr], p.Amount)
		t.balances[p.Recipient] = add(t.balances[p.Recipient], p.Amount)
	}

	p.Executed = true
	return nil
}

func (tr *treasuryState) proposal(id *big.Int) (*proposalState, error) {
	if !id.IsUint64() || id.Uint64() >= uint64(len(tr.proposals)) {
		return nil, errors.New("unknown proposal")
	}
	return tr.proposals[id.Uint64()], nil
}

func (tr *treasuryState) isOwner(account common.Address) bool {
	return contains(tr.config.Owners, account)
}

func toConfig(v interface{}) treasury.Config {
	return *abi.ConvertType(v, new(treasury.Config)).(*treasury.Config)
}

func toConfigSlice(v interface{}) []treasury.Config {
	return *abi.ConvertType(v, new([]treasury.Config)).(*[]treasury.Config)
}

func contains(set []common.Address, addr common.Address) bool {
	for _, a := range set {
		if a == addr {
			return true
		}
	}
	return false
}

func amountOf(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func add(a, b *big.Int) *big.Int {
	if a == nil {
		a = big.NewInt(0)
	}
	return new(big.Int).Add(a, b)
}
