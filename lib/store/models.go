package store

// Account is an observed sub-address record. Address (the full encoded
// address+tag string) is the primary key; Balance uses the same 10^6 fixed-point
// scale as operation amounts and is only ever mutated by atomic increments.
type Account struct {
	Address   string `json:"address" bson:"_id"`
	PaymentID string `json:"paymentId,omitempty" bson:"paymentId,omitempty"`
	Balance   int64  `json:"balance" bson:"balance"`
	Block     int64  `json:"block,omitempty" bson:"block,omitempty"`
}
