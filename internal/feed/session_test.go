package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KE-WhyNot/BE-finance-service-sub000/configs"
	"github.com/KE-WhyNot/BE-finance-service-sub000/internal/wire"
)

// chanSink delivers each published message to a channel.
type chanSink struct {
	out chan string
}

func (c *chanSink) Publish(msg string) error {
	c.out <- msg
	return nil
}

// echoDataServer reads the expected number of subscribe frames, then writes
// the given frames to the client and keeps the connection open.
func echoDataServer(t *testing.T, expectSubs int, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		for i := 0; i < expectSubs; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the connection until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func testPartition(codes ...string) Partition {
	return Partition{
		Credential: configs.Credential{KeyID: "k1", Secret: "s1"},
		SubType:    wire.SubscribeTrade,
		Codes:      codes,
	}
}

func TestSessionForwardsDecodedMessages(t *testing.T) {
	frames := []string{
		`{"header":{"tr_id":"PINGPONG"}}`, // control, dropped
		"0|H0STCNT0|001|005930^093012^71500^2^-300^-0.42^1234567^71100^71900",
		"0|H0STXXX9|001|005930^093012^1", // unknown tr_id, dropped
	}
	srv := echoDataServer(t, 1, frames)
	defer srv.Close()

	sink := &chanSink{out: make(chan string, 8)}
	session := NewSession(wsURL(srv), "approval-1", testPartition("005930"), sink, testLogger())

	if err := session.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	if !session.IsOpen() {
		t.Error("expected session to be open")
	}

	select {
	case msg := <-sink.out:
		var env struct {
			Type string `json:"type"`
			Data struct {
				Symbol    string `json:"symbol"`
				LastPrice int64  `json:"last_price"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(msg), &env); err != nil {
			t.Fatalf("unmarshal published message: %v", err)
		}
		if env.Type != "trade" || env.Data.Symbol != "005930" || env.Data.LastPrice != 71500 {
			t.Errorf("published message = %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}

	// Control and unknown frames never reach the sink.
	select {
	case msg := <-sink.out:
		t.Errorf("unexpected extra message: %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionCloseMidRead(t *testing.T) {
	srv := echoDataServer(t, 1, nil)
	defer srv.Close()

	sink := &chanSink{out: make(chan string, 1)}
	session := NewSession(wsURL(srv), "approval-1", testPartition("005930"), sink, testLogger())

	if err := session.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	session.Close()
	if session.IsOpen() {
		t.Error("expected session to be closed")
	}

	// Double close is safe.
	session.Close()
}

func TestSessionIsSingleShot(t *testing.T) {
	srv := echoDataServer(t, 1, nil)
	defer srv.Close()

	sink := &chanSink{out: make(chan string, 1)}
	session := NewSession(wsURL(srv), "approval-1", testPartition("005930"), sink, testLogger())

	if err := session.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	session.Close()

	if err := session.Open(context.Background()); err == nil {
		t.Error("expected reopen of a closed session to fail")
	}
}

func TestSessionDialFailure(t *testing.T) {
	sink := &chanSink{out: make(chan string, 1)}
	session := NewSession("ws://127.0.0.1:1", "approval-1", testPartition("005930"), sink, testLogger())

	if err := session.Open(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if session.IsOpen() {
		t.Error("failed open must leave the session closed")
	}
}
