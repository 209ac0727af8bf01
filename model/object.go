package model

import (
	"fmt"
	"time"
)

// Object is an instance of a modeled resource. Fields hold the persisted
// values keyed by field name; Version drives optimistic locking.
type Object struct {
	ID        string         `json:"id"`
	Class     string         `json:"class"`
	Fields    map[string]any `json:"fields"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewObject returns an empty, unsaved object of the given class.
func NewObject(class string) *Object {
	return &Object{Class: class, Fields: make(map[string]any)}
}

// Get returns the value of a field, or nil.
func (o *Object) Get(field string) any {
	if o == nil || o.Fields == nil {
		return nil
	}
	return o.Fields[field]
}

// Set assigns a field value.
func (o *Object) Set(field string, value any) {
	if o.Fields == nil {
		o.Fields = make(map[string]any)
	}
	o.Fields[field] = value
}

// IsNew reports whether the object has not been persisted yet.
func (o *Object) IsNew() bool {
	return o.ID == ""
}

// Name returns the human readable name of the object, read from nameField
// when set, falling back to "<class>:<id>".
func (o *Object) Name(nameField string) string {
	if nameField != "" {
		if v, ok := o.Fields[nameField]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	if o.ID == "" {
		return o.Class
	}
	return o.Class + ":" + o.ID
}

// Clone returns a copy of the object with its own field map.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	c := *o
	c.Fields = make(map[string]any, len(o.Fields))
	for k, v := range o.Fields {
		c.Fields[k] = v
	}
	return &c
}

// Revision is one audited state of an object.
type Revision struct {
	ID        string    `json:"id"`
	Class     string    `json:"class"`
	ObjectID  string    `json:"object_id"`
	Action    string    `json:"action"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
	Object    *Object   `json:"object,omitempty"`
}
