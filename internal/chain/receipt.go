package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	ReceiptStatusFailed     = uint64(0)
	ReceiptStatusSuccessful = uint64(1)
)

// Receipt represents the outcome of one Transact call
type Receipt struct {
	TxHash      common.Hash    `json:"transactionHash"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   uint64         `json:"timestamp"`
	From        common.Address `json:"from"`
	Logs        []*types.Log   `json:"logs"`
	Status      uint64         `json:"status"`
	Error       string         `json:"error,omitempty"`
}

// ReceiptStore manages transaction receipts in memory
type ReceiptStore struct {
	receipts map[common.Hash]*Receipt
	mu       sync.RWMutex
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		receipts: make(map[common.Hash]*Receipt),
	}
}

func (s *ReceiptStore) AddReceipt(r *Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Store a copy to avoid aliasing caller's data
	s.receipts[r.TxHash] = r.DeepCopy()
}

func (s *ReceiptStore) GetReceipt(hash common.Hash) *Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.receipts[hash]
	if r == nil {
		return nil
	}
	return r.DeepCopy()
}

// Len returns the number of stored receipts
func (s *ReceiptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

// Succeeded reports whether the transaction applied its changes
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccessful
}

// DeepCopy creates a deep copy of the Receipt
func (r *Receipt) DeepCopy() *Receipt {
	if r == nil {
		return nil
	}

	result := &Receipt{
		TxHash:      r.TxHash,
		BlockNumber: r.BlockNumber,
		Timestamp:   r.Timestamp,
		From:        r.From,
		Status:      r.Status,
		Error:       r.Error,
	}

	if r.Logs != nil {
		result.Logs = make([]*types.Log, len(r.Logs))
		for i, log := range r.Logs {
			if log != nil {
				logCopy := *log
				if log.Topics != nil {
					logCopy.Topics = make([]common.Hash, len(log.Topics))
					copy(logCopy.Topics, log.Topics)
				}
				if log.Data != nil {
					logCopy.Data = make([]byte, len(log.Data))
					copy(logCopy.Data, log.Data)
				}
				result.Logs[i] = &logCopy
			}
		}
	}

	return result
}
