package lending

import (
	"encoding/binary"
	"fmt"

	"humanebanque/core/state"
	"humanebanque/crypto"
	nativecommon "humanebanque/native/common"
)

// kvStore is the transactional key-value surface the engine persists through.
// *state.Tx satisfies it.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value uint64) error
	KVGetList(key []byte, out interface{}) error
}

// stateBackend opens transactions against durable state.
type stateBackend interface {
	Begin() (*state.Tx, error)
}

var (
	marketPrefix     = []byte("lending/market/")
	marketListKey    = []byte("lending/markets")
	offerPrefix      = []byte("lending/offer/")
	offerIndexPrefix = []byte("lending/offers-by-market/")
	requestPrefix    = []byte("lending/request/")
	requestIndex     = []byte("lending/requests-by-market/")
	loanPrefix       = []byte("lending/loan/")
	loanIndexPrefix  = []byte("lending/loans-by-market/")
	counterPrefix    = []byte("lending/counter/")
	collateralPrefix = []byte("lending/collateral/")
	collateralList   = []byte("lending/collateral-assets")
	blacklistPrefix  = []byte("lending/blacklist/")
	quotaPrefix      = []byte("lending/quota/")
	riskParamsKey    = []byte("lending/risk-params")
	pausedKey        = []byte("lending/paused/")
	poolAnchorKey    = []byte("lending/pool-anchor")
)

func u64Key(prefix []byte, v uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], v)
	return key
}

func bytesKey(prefix []byte, parts ...[]byte) []byte {
	key := append([]byte(nil), prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

// ledgerState exposes typed accessors for the lending records.
type ledgerState struct {
	kv kvStore
}

func (s ledgerState) getMarket(maturity uint64) (*Market, error) {
	market := new(Market)
	ok, err := s.kv.KVGet(u64Key(marketPrefix, maturity), market)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMarket, maturity)
	}
	return market, nil
}

func (s ledgerState) hasMarket(maturity uint64) (bool, error) {
	return s.kv.KVGet(u64Key(marketPrefix, maturity), nil)
}

func (s ledgerState) putMarket(m *Market) error {
	return s.kv.KVPut(u64Key(marketPrefix, m.Maturity), m)
}

func (s ledgerState) addMarket(m *Market) error {
	if err := s.putMarket(m); err != nil {
		return err
	}
	return s.kv.KVAppend(marketListKey, m.Maturity)
}

func (s ledgerState) marketMaturities() ([]uint64, error) {
	var list []uint64
	if err := s.kv.KVGetList(marketListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s ledgerState) nextID(kind string) (uint64, error) {
	key := bytesKey(counterPrefix, []byte(kind))
	var current uint64
	if _, err := s.kv.KVGet(key, &current); err != nil {
		return 0, err
	}
	current++
	if err := s.kv.KVPut(key, current); err != nil {
		return 0, err
	}
	return current, nil
}

func (s ledgerState) getOffer(id uint64) (*LendOffer, error) {
	offer := new(LendOffer)
	ok, err := s.kv.KVGet(u64Key(offerPrefix, id), offer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: offer %d", ErrUnknownOrder, id)
	}
	return offer, nil
}

func (s ledgerState) putOffer(o *LendOffer) error {
	return s.kv.KVPut(u64Key(offerPrefix, o.ID), o)
}

func (s ledgerState) addOffer(o *LendOffer) error {
	if err := s.putOffer(o); err != nil {
		return err
	}
	return s.kv.KVAppend(u64Key(offerIndexPrefix, o.Maturity), o.ID)
}

func (s ledgerState) offers(maturity uint64) ([]*LendOffer, error) {
	var ids []uint64
	if err := s.kv.KVGetList(u64Key(offerIndexPrefix, maturity), &ids); err != nil {
		return nil, err
	}
	out := make([]*LendOffer, 0, len(ids))
	for _, id := range ids {
		offer, err := s.getOffer(id)
		if err != nil {
			return nil, err
		}
		out = append(out, offer)
	}
	return out, nil
}

func (s ledgerState) getRequest(id uint64) (*BorrowRequest, error) {
	req := new(BorrowRequest)
	ok, err := s.kv.KVGet(u64Key(requestPrefix, id), req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %d", ErrUnknownOrder, id)
	}
	return req, nil
}

func (s ledgerState) putRequest(r *BorrowRequest) error {
	return s.kv.KVPut(u64Key(requestPrefix, r.ID), r)
}

func (s ledgerState) addRequest(r *BorrowRequest) error {
	if err := s.putRequest(r); err != nil {
		return err
	}
	return s.kv.KVAppend(u64Key(requestIndex, r.Maturity), r.ID)
}

func (s ledgerState) requests(maturity uint64) ([]*BorrowRequest, error) {
	var ids []uint64
	if err := s.kv.KVGetList(u64Key(requestIndex, maturity), &ids); err != nil {
		return nil, err
	}
	out := make([]*BorrowRequest, 0, len(ids))
	for _, id := range ids {
		req, err := s.getRequest(id)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (s ledgerState) getLoan(id uint64) (*Loan, error) {
	loan := new(Loan)
	ok, err := s.kv.KVGet(u64Key(loanPrefix, id), loan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLoan, id)
	}
	return loan, nil
}

func (s ledgerState) putLoan(l *Loan) error {
	return s.kv.KVPut(u64Key(loanPrefix, l.ID), l)
}

func (s ledgerState) addLoan(l *Loan) error {
	if err := s.putLoan(l); err != nil {
		return err
	}
	return s.kv.KVAppend(u64Key(loanIndexPrefix, l.Maturity), l.ID)
}

func (s ledgerState) loans(maturity uint64) ([]*Loan, error) {
	var ids []uint64
	if err := s.kv.KVGetList(u64Key(loanIndexPrefix, maturity), &ids); err != nil {
		return nil, err
	}
	out := make([]*Loan, 0, len(ids))
	for _, id := range ids {
		loan, err := s.getLoan(id)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, nil
}

func (s ledgerState) collateralAllowed(asset crypto.Address) (bool, error) {
	var allowed bool
	if _, err := s.kv.KVGet(bytesKey(collateralPrefix, asset[:]), &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

func (s ledgerState) setCollateralAllowed(asset crypto.Address, allowed bool) error {
	key := bytesKey(collateralPrefix, asset[:])
	known, err := s.kv.KVGet(key, nil)
	if err != nil {
		return err
	}
	if err := s.kv.KVPut(key, allowed); err != nil {
		return err
	}
	if known {
		return nil
	}
	var assets [][]byte
	if err := s.kv.KVGetList(collateralList, &assets); err != nil {
		return err
	}
	return s.kv.KVPut(collateralList, append(assets, asset.Bytes()))
}

func (s ledgerState) collateralAssets() ([]crypto.Address, error) {
	var raw [][]byte
	if err := s.kv.KVGetList(collateralList, &raw); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(raw))
	for _, b := range raw {
		allowed, err := s.collateralAllowed(crypto.NewAddress(b))
		if err != nil {
			return nil, err
		}
		if allowed {
			out = append(out, crypto.NewAddress(b))
		}
	}
	return out, nil
}

func (s ledgerState) isBlacklisted(n Nullifier) (bool, error) {
	return s.kv.KVGet(bytesKey(blacklistPrefix, n[:]), nil)
}

func (s ledgerState) setBlacklisted(n Nullifier, listed bool) error {
	key := bytesKey(blacklistPrefix, n[:])
	if listed {
		return s.kv.KVPut(key, true)
	}
	return s.kv.KVDelete(key)
}

func (s ledgerState) riskParams(fallback RiskParams) (RiskParams, error) {
	params := fallback
	ok, err := s.kv.KVGet(riskParamsKey, &params)
	if err != nil {
		return RiskParams{}, err
	}
	if !ok {
		return fallback, nil
	}
	return params, nil
}

func (s ledgerState) putRiskParams(p RiskParams) error {
	return s.kv.KVPut(riskParamsKey, p)
}

// IsPaused implements nativecommon.PauseView. An unreadable flag is treated
// as paused.
func (s ledgerState) IsPaused(module string) bool {
	var paused bool
	if _, err := s.kv.KVGet(bytesKey(pausedKey, []byte(module)), &paused); err != nil {
		return true
	}
	return paused
}

func (s ledgerState) setPaused(module string, paused bool) error {
	return s.kv.KVPut(bytesKey(pausedKey, []byte(module)), paused)
}

func (s ledgerState) poolAnchor() (*PoolAnchor, bool, error) {
	anchor := new(PoolAnchor)
	ok, err := s.kv.KVGet(poolAnchorKey, anchor)
	if err != nil || !ok {
		return nil, false, err
	}
	return anchor, true, nil
}

func (s ledgerState) putPoolAnchor(a *PoolAnchor) error {
	return s.kv.KVPut(poolAnchorKey, a)
}

func (s ledgerState) quota(n Nullifier) (nativecommon.QuotaNow, error) {
	var usage nativecommon.QuotaNow
	if _, err := s.kv.KVGet(bytesKey(quotaPrefix, n[:]), &usage); err != nil {
		return nativecommon.QuotaNow{}, err
	}
	return usage, nil
}

func (s ledgerState) putQuota(n Nullifier, usage nativecommon.QuotaNow) error {
	return s.kv.KVPut(bytesKey(quotaPrefix, n[:]), usage)
}
