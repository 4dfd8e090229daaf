// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"github.com/tarancss/cgw/lib/msg"
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
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains an amqp channel and declares the "te" ("transaction events")
// exchange the gateway publishes lifecycle events to.
func (r *Amqp) Setup(x interface{}) error {
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare("te", "topic", true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker.
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}

		r.ch = nil
	}

	return r.conn.Close()
}

// SendEvent publishes a transaction lifecycle event to the "te" exchange.
func (r *Amqp) SendEvent(asset string, e msg.TxEvent) (err error) {
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(e); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}

	pub := amqp.Publishing{
		Headers:     amqp.Table{"x-tx-event": asset + "." + e.Hash},
		Body:        jsonDoc,
		ContentType: "application/json",
	}

	if err = r.ch.Publish("te", asset+".trans."+e.Hash, false, false, pub); err != nil {
		log.Printf("[%s] Error sending transaction event to message broker %e", asset, err)
	}

	return
}

// GetEvents consumes lifecycle events from the "te" exchange pushing them to the returned channel. The Mutex pointer
// is provided to ensure the consumed message has been fully dealt with by the management function, so the message
// consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetEvents(asset string, mut *sync.Mutex) (<-chan msg.TxEvent, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue and bind it to the exchange
	if _, err = r.ch.QueueDeclare("te"+asset, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}

	if err = r.ch.QueueBind("te"+asset, asset+".*.*", "te", false, nil); err != nil {
		return nil, nil, err
	}

	msgs, errCons := r.ch.Consume("te"+asset, "gateway-"+asset, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}

	eves := make(chan msg.TxEvent)
	errors := make(chan error)

	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			var e msg.TxEvent
			if err := json.Unmarshal(m.Body, &e); err != nil {
				errors <- err

				continue
			}

			eves <- e
			mut.Lock() // wait for the consumer to finish processing the event
			m.Ack(false)
		}
	}()

	return eves, errors, nil
}
