// Package interfaces 撮合服务的接入层：Kafka 订单指令消费与分发
package interfaces

import (
	"context"
	"log/slog"
	"sync"

	"github.com/peiko-en/exchange/internal/matching/application"
	"github.com/peiko-en/exchange/internal/matching/domain"
	"github.com/peiko-en/exchange/pkg/mq"
)

// 订单指令动作
const (
	ActionTrade          = "trade"
	ActionCancel         = "cancel"
	ActionCloseBotOrders = "close_bot_orders"
	ActionRebuild        = "rebuild"
)

// OrderCommand 订单指令。同一交易对的指令必须串行处理，
// 分发器按 pair_id 固定路由到同一个 worker。
type OrderCommand struct {
	Action   string   `json:"action"`
	PairID   uint64   `json:"pair_id"`
	OrderID  uint64   `json:"order_id,omitempty"`
	OrderIDs []uint64 `json:"order_ids,omitempty"`
}

// Dispatcher 从 Kafka 消费订单指令并按交易对分发。
// 每个交易对一个常驻 worker 协程，保证同对撮合串行、跨对并行。
type Dispatcher struct {
	consumer  *mq.Consumer
	trading   *application.Trading
	botCloser *application.BotOrderCloser
	rebuilder *application.BookRebuilder
	orders    domain.OrderRepository
	pairs     domain.PairRepository
	logger    *slog.Logger

	mu      sync.Mutex
	workers map[uint64]chan OrderCommand
	wg      sync.WaitGroup

	// pairCache 交易对元数据基本不变，进程内缓存
	pairMu    sync.RWMutex
	pairCache map[uint64]*domain.Pair
}

func NewDispatcher(
	consumer *mq.Consumer,
	trading *application.Trading,
	botCloser *application.BotOrderCloser,
	rebuilder *application.BookRebuilder,
	orders domain.OrderRepository,
	pairs domain.PairRepository,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		consumer:  consumer,
		trading:   trading,
		botCloser: botCloser,
		rebuilder: rebuilder,
		orders:    orders,
		pairs:     pairs,
		logger:    logger.With("module", "order_dispatcher"),
		workers:   make(map[uint64]chan OrderCommand),
		pairCache: make(map[uint64]*domain.Pair),
	}
}

// Run 阻塞消费直到 ctx 取消，退出前等待所有 worker 清空队列
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.shutdown()

	for {
		msg, err := d.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.ErrorContext(ctx, "read order command failed", "error", err)
			continue
		}

		var cmd OrderCommand
		if err := msg.UnmarshalPayload(&cmd); err != nil {
			d.logger.ErrorContext(ctx, "malformed order command", "offset", msg.Offset, "error", err)
			continue
		}
		if cmd.PairID == 0 {
			d.logger.WarnContext(ctx, "order command without pair", "action", cmd.Action)
			continue
		}

		d.worker(ctx, cmd.PairID) <- cmd
	}
}

func (d *Dispatcher) worker(ctx context.Context, pairID uint64) chan OrderCommand {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, ok := d.workers[pairID]
	if !ok {
		ch = make(chan OrderCommand, 256)
		d.workers[pairID] = ch
		d.wg.Add(1)
		go d.workerLoop(ctx, pairID, ch)
	}
	return ch
}

func (d *Dispatcher) workerLoop(ctx context.Context, pairID uint64, ch chan OrderCommand) {
	defer d.wg.Done()

	for cmd := range ch {
		d.handle(ctx, pairID, cmd)
	}
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	for _, ch := range d.workers {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, pairID uint64, cmd OrderCommand) {
	pair, err := d.pair(ctx, pairID)
	if err != nil {
		d.logger.ErrorContext(ctx, "resolve pair failed", "pair_id", pairID, "error", err)
		return
	}
	if pair == nil {
		d.logger.WarnContext(ctx, "command for unknown pair", "pair_id", pairID)
		return
	}

	switch cmd.Action {
	case ActionTrade:
		d.handleTrade(ctx, pair, cmd.OrderID)
	case ActionCancel:
		d.handleCancel(ctx, pair, cmd.OrderID)
	case ActionCloseBotOrders:
		if err := d.botCloser.Close(ctx, pair, cmd.OrderIDs); err != nil {
			d.logger.ErrorContext(ctx, "close bot orders failed", "pair_id", pairID, "error", err)
		}
	case ActionRebuild:
		if err := d.rebuilder.Sync(ctx, pair); err != nil {
			d.logger.ErrorContext(ctx, "rebuild order book failed", "pair_id", pairID, "error", err)
		}
	default:
		d.logger.WarnContext(ctx, "unknown order command action", "action", cmd.Action)
	}
}

func (d *Dispatcher) handleTrade(ctx context.Context, pair *domain.Pair, orderID uint64) {
	order, err := d.loadOrder(ctx, pair, orderID)
	if err != nil || order == nil {
		return
	}
	if !order.InWork() {
		d.logger.WarnContext(ctx, "skip order not in work", "order_id", orderID, "status", order.Status)
		return
	}

	if err := d.trading.Trade(ctx, order); err != nil {
		d.logger.ErrorContext(ctx, "trade failed", "order_id", orderID, "error", err)
	}
}

func (d *Dispatcher) handleCancel(ctx context.Context, pair *domain.Pair, orderID uint64) {
	order, err := d.loadOrder(ctx, pair, orderID)
	if err != nil || order == nil {
		return
	}

	if err := d.trading.Cancel(ctx, order); err != nil {
		d.logger.ErrorContext(ctx, "cancel failed", "order_id", orderID, "error", err)
	}
}

func (d *Dispatcher) loadOrder(ctx context.Context, pair *domain.Pair, orderID uint64) (*domain.Order, error) {
	order, err := d.orders.FindByID(ctx, orderID)
	if err != nil {
		d.logger.ErrorContext(ctx, "load order failed", "order_id", orderID, "error", err)
		return nil, err
	}
	if order == nil {
		d.logger.WarnContext(ctx, "order not found", "order_id", orderID)
		return nil, nil
	}

	order.Pair = pair
	return order, nil
}

func (d *Dispatcher) pair(ctx context.Context, pairID uint64) (*domain.Pair, error) {
	d.pairMu.RLock()
	pair, ok := d.pairCache[pairID]
	d.pairMu.RUnlock()
	if ok {
		return pair, nil
	}

	pair, err := d.pairs.FindByID(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if pair != nil {
		d.pairMu.Lock()
		d.pairCache[pairID] = pair
		d.pairMu.Unlock()
	}
	return pair, nil
}
