// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"

	"github.com/openimpact/dtrack/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Info().Str("uri", uri).Msg("connected to message broker")

	return &r, err
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - watch: the tracker service publishes watch requests to this exchange
//
// - events: the watcher service publishes contract events to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	if err = channel.ExchangeDeclare("watch", "topic", true, false, false, false, nil); err != nil {
		return err
	}
	err = channel.ExchangeDeclare("events", "topic", true, false, false, false, nil)
	return err
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Error().Err(err).Msg("error closing amqp.Channel")
		}
		r.ch = nil
	}
	return r.conn.Close()
}

// SendEvents publishes contract events to the "events" exchange
func (r *Amqp) SendEvents(net string, evs []msg.Event) (err error) {
	for _, ev := range evs {
		// marshal to JSON
		var jsonDoc []byte
		if jsonDoc, err = json.Marshal(ev); err != nil {
			return
		}
		// obtain channel if not present
		if r.ch == nil {
			if r.ch, err = r.conn.Channel(); err != nil {
				return
			}
		}
		// build body
		m := amqp.Publishing{
			Headers:     amqp.Table{"x-event-name": net + "." + ev.TxHash},
			Body:        jsonDoc,
			ContentType: "application/json",
		}
		// publish
		if err = r.ch.Publish("events", net+"."+string(ev.Kind)+"."+ev.TxHash, false, false, m); err != nil {
			log.Error().Str("net", net).Err(err).Msg("error sending contract event to message broker")
		}
	}
	return
}

// SendWatchReq publishes a new watch request to the "watch" exchange
func (r *Amqp) SendWatchReq(net string, wr msg.WatchReq) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(wr); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-wreq-name": net + "." + wr.Wallet},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	// publish
	if err = r.ch.Publish("watch", net+".org."+wr.Wallet, false, false, m); err != nil {
		log.Error().Str("net", net).Err(err).Msg("error sending watch request to message broker")
	}
	return
}

// GetEvents consumes contract events from the "events" exchange pushing them to the returned channel. The Mutex
// pointer is provided to ensure the consumed message has been fully dealt with by the management function, so the
// message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetEvents(net string, mut *sync.Mutex) (<-chan msg.Event, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue
	if _, err = r.ch.QueueDeclare("events"+net, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = r.ch.QueueBind("events"+net, net+".*.*", "events", false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving events
	msgs, errCons := r.ch.Consume("events"+net, "tracker-"+net, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	eves := make(chan msg.Event)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			ev := new(msg.Event)
			err := json.Unmarshal(m.Body, ev)
			if err != nil {
				errors <- err
				continue
			}
			eves <- *ev
			mut.Lock() // wait for tracker to finish processing the event
			m.Ack(false)
		}
	}()
	return eves, errors, nil
}

// GetWatchReqs consumes watch requests from the "watch" exchange for the specified network pushing them to the
// returned channel. The Mutex pointer is provided to ensure the consumed message has been fully dealt with by the
// management function, so the message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetWatchReqs(net string, mut *sync.Mutex) (<-chan msg.WatchReq, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue
	if _, err = r.ch.QueueDeclare("watch"+net, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = r.ch.QueueBind("watch"+net, net+".*.*", "watch", false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving requests
	msgs, errCons := r.ch.Consume("watch"+net, "watcher-"+net, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	reqs := make(chan msg.WatchReq)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			req := new(msg.WatchReq)
			err := json.Unmarshal(m.Body, req)
			if err != nil {
				errors <- err
				continue
			}
			reqs <- *req
			mut.Lock() // wait for watcher to finish processing the request
			m.Ack(false)
		}
	}()
	return reqs, errors, nil
}
