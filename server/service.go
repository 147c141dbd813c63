package server

import (
	"context"
	"fmt"
	"reflect"

	"crm-rpc/message"

	"github.com/pkg/errors"
)

// Method is one remotely callable operation of a resource. It receives the opaque argument
// payload and returns an auxiliary value (kept on the server, only logged) and the reply payload.
// args aliases the received message and must not be retained after the method returns.
type Method func(args []byte) (aux any, resp []byte, err error)

// Resource is the object a server exposes. Methods is read once, when the server is constructed.
type Resource interface {
	Methods() map[string]Method
}

// Terminator is implemented by resources that want to release something when the server
// session ends. Its error is logged and otherwise ignored.
type Terminator interface {
	Terminate() error
}

// MethodMap is the simplest Resource: a fixed set of named methods.
type MethodMap map[string]Method

func (m MethodMap) Methods() map[string]Method {
	return m
}

type service struct {
	name       string
	methods    map[string]Method
	terminator Terminator
}

func newService(name string, rcvr Resource) (*service, error) {
	if rcvr == nil {
		return nil, errors.New("rpc: resource is nil")
	}
	if name == "" {
		name = typeName(rcvr)
	}

	methods := make(map[string]Method)
	for methodName, m := range rcvr.Methods() {
		switch {
		case methodName == "":
			return nil, errors.Errorf("rpc: %s exposes a method with an empty name", name)
		case m == nil:
			return nil, errors.Errorf("rpc: %s.%s has a nil handler", name, methodName)
		case message.IsReserved(methodName):
			return nil, errors.Errorf("rpc: %s.%s collides with a control message", name, methodName)
		}
		methods[methodName] = m
	}

	svc := &service{
		name:    name,
		methods: methods,
	}
	if t, ok := rcvr.(Terminator); ok {
		svc.terminator = t
	}
	return svc, nil
}

// call is the innermost handler of the middleware chain.
func (s *service) call(_ context.Context, call *message.Call) (result *message.Result, err error) {
	method, ok := s.methods[call.Method]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMethod, "%s.%s", s.name, call.Method)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.Errorf("rpc: %s.%s panicked: %v", s.name, call.Method, r)
		}
	}()

	aux, resp, err := method(call.Args)
	if err != nil {
		return nil, errors.Wrapf(err, "%s.%s", s.name, call.Method)
	}
	return &message.Result{Aux: aux, Payload: resp}, nil
}

func (s *service) terminate() (err error) {
	if s.terminator == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("rpc: %s termination hook panicked: %v", s.name, r)
		}
	}()
	return s.terminator.Terminate()
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return fmt.Sprintf("%T", v)
}
