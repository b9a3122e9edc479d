package writer

import (
	"encoding/json"

	zmq "github.com/pebbe/zmq4"

	"github.com/cdcstream/olr/builder"
)

// ZmqSink publishes output messages over a ZeroMQ PUB socket and
// receives control requests over a paired REP socket, mirroring the
// two-socket request/publish split common in ZeroMQ CDC consumers.
type ZmqSink struct {
	pub *zmq.Socket
	rep *zmq.Socket
}

// NewZmqSink binds a PUB socket at pubAddr and a REP socket at
// repAddr for the control protocol.
func NewZmqSink(pubAddr, repAddr string) (*ZmqSink, error) {
	pub, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := pub.Bind(pubAddr); err != nil {
		pub.Close()
		return nil, err
	}

	rep, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		pub.Close()
		return nil, err
	}
	if err := rep.Bind(repAddr); err != nil {
		pub.Close()
		rep.Close()
		return nil, err
	}

	return &ZmqSink{pub: pub, rep: rep}, nil
}

func (s *ZmqSink) Send(msg *builder.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.pub.SendBytes(data, 0)
	return err
}

// Poll reads one control request off the REP socket. ZeroMQ REP
// sockets require a reply before the next Recv; callers must call
// Reply after handling the request.
func (s *ZmqSink) Poll() (*Request, bool, error) {
	data, err := s.rep.RecvBytes(zmq.DONTWAIT)
	if err != nil {
		if zmq.AsErrno(err) == zmq.Errno(zmq.ETERM) {
			return nil, false, err
		}
		return nil, false, nil // EAGAIN: no request pending
	}

	var req wireRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false, err
	}
	return &Request{Kind: RequestKind(req.Kind), SCN: req.SCN, Idx: req.Idx, Seq: req.Seq}, true, nil
}

// Reply sends state back over the REP socket in response to the most
// recent Poll request.
func (s *ZmqSink) Reply(state ResponseState) error {
	data, err := json.Marshal(struct {
		State int `json:"state"`
	}{State: int(state)})
	if err != nil {
		return err
	}
	_, err = s.rep.SendBytes(data, 0)
	return err
}

func (s *ZmqSink) Close() error {
	s.pub.Close()
	return s.rep.Close()
}
