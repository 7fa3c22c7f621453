package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 运行状态常量
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateFailed  = "failed"
)

// 事件常量
const (
	EventBegin  = "begin"
	EventFinish = "finish"
	EventFail   = "fail"
)

// ErrAlreadyRunning 已有同步在运行
var ErrAlreadyRunning = errors.New("sync already running")

// RunState 运行状态快照
type RunState struct {
	State     string    `json:"state"`
	Since     time.Time `json:"since"`
	Period    string    `json:"period,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// RunMachine 同步运行状态机，保证同一进程内不会并发运行
type RunMachine struct {
	mu            sync.RWMutex
	fsm           *fsm.FSM
	state         *RunState
	now           func() time.Time
	onStateChange func(from, to string)
}

// NewRunMachine 创建状态机
func NewRunMachine(onStateChange func(from, to string)) *RunMachine {
	m := &RunMachine{
		onStateChange: onStateChange,
		now:           time.Now,
	}
	m.state = &RunState{State: StateIdle, Since: m.now()}

	m.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventBegin, Src: []string{StateIdle, StateFailed}, Dst: StateRunning},
			{Name: EventFinish, Src: []string{StateRunning}, Dst: StateIdle},
			{Name: EventFail, Src: []string{StateRunning}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// Begin 进入 running；已在运行时返回 ErrAlreadyRunning
func (m *RunMachine) Begin(period string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fsm.Current() == StateRunning {
		return ErrAlreadyRunning
	}
	if err := m.trigger(EventBegin); err != nil {
		return err
	}
	m.state.Period = period
	return nil
}

// Finish 运行成功
func (m *RunMachine) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.trigger(EventFinish); err != nil {
		return err
	}
	m.state.LastError = ""
	return nil
}

// Fail 运行失败
func (m *RunMachine) Fail(cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.trigger(EventFail); err != nil {
		return err
	}
	if cause != nil {
		m.state.LastError = cause.Error()
	}
	return nil
}

// Current 当前状态
func (m *RunMachine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Snapshot 状态副本
func (m *RunMachine) Snapshot() RunState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := *m.state
	s.State = m.fsm.Current()
	return s
}

// trigger 调用方持有锁
func (m *RunMachine) trigger(event string) error {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("trigger event %s: %w", event, err)
	}
	m.state.State = m.fsm.Current()
	m.state.Since = m.now()
	return nil
}
