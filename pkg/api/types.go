package api

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hbsledger/pkg/consensus"
	"github.com/uhyunpark/hbsledger/pkg/experiment"
	"github.com/uhyunpark/hbsledger/pkg/metrics"
)

// API response types for REST endpoints and WebSocket messages

// RunInfo is the listing view of one experiment run
type RunInfo struct {
	RunID        string              `json:"runId"`
	ExpTag       string              `json:"expTag"`
	Alg          string              `json:"alg"`
	Mode         string              `json:"mode"`
	PayloadBytes int                 `json:"payloadBytes"`
	Trial        int                 `json:"trial"`
	Nodes        int                 `json:"nodes"`
	Rounds       int                 `json:"rounds"`
	Blocks       int                 `json:"blocks"`
	DurationMs   int64               `json:"durationMs"`
	Summary      metrics.Summary     `json:"summary"`
	Adversarial  metrics.Adversarial `json:"adversarial"`
	Checks       experiment.Checks   `json:"checks"`
}

// BlockInfo is a block with byte fields hex encoded
type BlockInfo struct {
	Index        uint64        `json:"index"`
	Timestamp    int64         `json:"timestamp"` // Unix nanoseconds
	PreviousHash string        `json:"previousHash"`
	BlockHash    string        `json:"blockHash"`
	LinkHash     string        `json:"linkHash"`
	Producer     string        `json:"producer"`
	Alg          string        `json:"alg"`
	DataBytes    int           `json:"dataBytes"`
	Signature    hexutil.Bytes `json:"signature,omitempty"`
	SigBytes     int           `json:"sigBytes"`
	PublicKey    hexutil.Bytes `json:"publicKey"`
}

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type string      `json:"type"` // "block"
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["blocks", "blocks:xmss-sim"]
}

// BlockUpdate is broadcast for every produced block
type BlockUpdate struct {
	RunID   string    `json:"runId"`
	Round   uint64    `json:"round"`
	DelayMs int64     `json:"delayMs"`
	Block   BlockInfo `json:"block"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func toRunInfo(r *experiment.Result) RunInfo {
	info := RunInfo{
		RunID:        r.RunID,
		ExpTag:       r.ExpTag,
		Alg:          r.Alg,
		Mode:         r.Mode,
		PayloadBytes: r.PayloadBytes,
		Trial:        r.Trial,
		Nodes:        r.Nodes,
		Rounds:       r.Rounds,
		DurationMs:   r.Ended.Sub(r.Started).Milliseconds(),
		Summary:      r.Summary,
		Adversarial:  r.Adversarial,
		Checks:       r.Checks,
	}
	if r.Store != nil {
		info.Blocks = r.Store.Len()
	}
	return info
}

func toBlockInfo(b consensus.Block, withSig bool) BlockInfo {
	info := BlockInfo{
		Index:        b.Index,
		Timestamp:    b.Timestamp.UnixNano(),
		PreviousHash: b.PreviousHash,
		BlockHash:    b.BlockHash,
		LinkHash:     consensus.LinkDigest(b),
		Producer:     string(b.Producer),
		Alg:          b.Alg,
		DataBytes:    len(b.Data),
		SigBytes:     len(b.Signature),
		PublicKey:    hexutil.Bytes(b.PublicKey),
	}
	if withSig {
		info.Signature = hexutil.Bytes(b.Signature)
	}
	return info
}
