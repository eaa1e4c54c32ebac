package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/voltgrid/opsconsole/pkg/serrors"
)

type EventBus interface {
	Publish(args ...any)
	Subscribe(handler any)
	Unsubscribe(handler any)
	SubscribersCount() int
}

type EventBusWithError interface {
	EventBus
	PublishE(args ...any) error
}

var (
	ErrNoSubscribers        = serrors.NewError("EVENTBUS_NO_SUBSCRIBERS", "no matching subscribers", "")
	ErrInvalidHandlerReturn = serrors.NewError("EVENTBUS_INVALID_HANDLER_RETURN", "invalid handler return signature", "")
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type publisherImpl struct {
	log         *logrus.Entry
	mu          sync.RWMutex
	subscribers []reflect.Value
}

// NewEventPublisher returns a synchronous in-process bus. Handlers are plain
// funcs; an event is delivered to every handler whose parameter list accepts it.
func NewEventPublisher(log *logrus.Logger) EventBusWithError {
	var entry *logrus.Entry
	if log != nil {
		entry = log.WithField("component", "eventbus")
	}
	return &publisherImpl{log: entry}
}

func MatchSignature(handler any, args []any) bool {
	t := reflect.TypeOf(handler)
	if t == nil || t.Kind() != reflect.Func {
		return false
	}
	if t.NumIn() != len(args) {
		return false
	}

	for i, arg := range args {
		paramType := t.In(i)
		if arg == nil {
			if paramType.Kind() != reflect.Interface && paramType.Kind() != reflect.Ptr {
				return false
			}
			continue
		}
		if !reflect.TypeOf(arg).AssignableTo(paramType) {
			return false
		}
	}
	return true
}

func (p *publisherImpl) matching(args []any) []reflect.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]reflect.Value, 0, len(p.subscribers))
	for _, h := range p.subscribers {
		if MatchSignature(h.Interface(), args) {
			out = append(out, h)
		}
	}
	return out
}

func callArgs(handler reflect.Value, args []any) []reflect.Value {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Zero(handler.Type().In(i))
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}
	return in
}

// Publish delivers args to all matching handlers. Panics and handler errors
// are logged, never propagated.
func (p *publisherImpl) Publish(args ...any) {
	if err := p.PublishE(args...); err != nil && p.log != nil {
		if errors.Is(err, ErrNoSubscribers) {
			p.log.Warnf("eventbus.Publish: no matching subscribers for event with args: %v", args)
			return
		}
		p.log.WithError(err).Error("eventbus.Publish: handler failed")
	}
}

// PublishE delivers args to all matching handlers and joins their errors.
func (p *publisherImpl) PublishE(args ...any) error {
	handlers := p.matching(args)
	if len(handlers) == 0 {
		return ErrNoSubscribers
	}

	var errs []error
	for _, h := range handlers {
		if err := invoke(h, args); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func invoke(h reflect.Value, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler %s panicked: %v", h.Type().String(), r)
		}
	}()

	out := h.Call(callArgs(h, args))
	switch len(out) {
	case 0:
		return nil
	case 1:
		if out[0].Type() != errorType {
			return fmt.Errorf("%w: handler %s return type is %s", ErrInvalidHandlerReturn, h.Type().String(), out[0].Type().String())
		}
		if out[0].IsNil() {
			return nil
		}
		return out[0].Interface().(error)
	default:
		return fmt.Errorf("%w: handler %s returned %d values", ErrInvalidHandlerReturn, h.Type().String(), len(out))
	}
}

func (p *publisherImpl) Subscribe(handler any) {
	v := reflect.ValueOf(handler)
	if v.Kind() != reflect.Func {
		panic("handler must be a function")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, v)
}

// Unsubscribe removes a handler previously passed to Subscribe. Funcs are
// compared by code pointer, so closures sharing a body are indistinguishable.
func (p *publisherImpl) Unsubscribe(handler any) {
	target := reflect.ValueOf(handler)
	if target.Kind() != reflect.Func {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, h := range p.subscribers {
		if h.Pointer() == target.Pointer() {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			return
		}
	}
}

func (p *publisherImpl) SubscribersCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}
