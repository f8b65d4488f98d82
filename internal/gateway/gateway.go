package gateway

import (
	"context"
	"encoding/json"
	"log"

	"github.com/go-redis/redis/v8"
)

// Payout is the instruction handed to the external payment processor once a
// withdrawal is approved. The processor identity is an opaque label; nothing
// here simulates settlement.
type Payout struct {
	TransactionID  string `json:"transactionId"`
	ReferenceCode  string `json:"referenceCode"`
	Gateway        string `json:"gateway"`
	PayoutChannel  string `json:"payoutChannel"`
	PayoutKey      string `json:"payoutKey"`
	HolderName     string `json:"holderName"`
	HolderDocument string `json:"holderDocument"`
	NetAmount      int64  `json:"netAmount"`
}

// PaymentGateway hands approved payouts to whatever actually moves the money.
type PaymentGateway interface {
	Dispatch(ctx context.Context, p Payout) error
}

// RedisQueue enqueues payouts for the external gateway worker.
type RedisQueue struct {
	client *redis.Client
	queue  string
}

func NewRedisQueue(client *redis.Client, queue string) *RedisQueue {
	return &RedisQueue{client: client, queue: queue}
}

func (g *RedisQueue) Dispatch(ctx context.Context, p Payout) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return g.client.RPush(ctx, g.queue, data).Err()
}

// LogOnly is used when Redis is unavailable: payouts are logged for manual
// dispatch instead of queued.
type LogOnly struct{}

func (LogOnly) Dispatch(ctx context.Context, p Payout) error {
	log.Printf("[GATEWAY] No payout queue configured, manual dispatch required: %s (%s, %d cents via %s)",
		p.TransactionID, p.ReferenceCode, p.NetAmount, p.Gateway)
	return nil
}
