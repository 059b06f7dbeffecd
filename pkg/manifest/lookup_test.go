package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupChain(t *testing.T) {
	desc := map[string]interface{}{
		"placement": map[string]interface{}{"region": "eu-central", "group_name": ""},
		"zones":     []interface{}{"fsn1", "nbg1"},
		"tags":      []string{"a", "b"},
		"cores":     4.0,
		"enabled":   "true",
	}

	assert.Equal(t, "eu-central", Lookup(desc).Get("placement").Get("region").String(Unknown))
	assert.Equal(t, "", Lookup(desc).Get("placement").Get("group_name").String(Unknown),
		"present empty values stay empty")
	assert.Equal(t, Unknown, Lookup(desc).Get("placement").Get("zone").String(Unknown))
	assert.Equal(t, Unknown, Lookup(desc).Get("missing").Get("deeper").Index(3).String(Unknown))

	assert.Equal(t, "nbg1", Lookup(desc).Get("zones").Index(1).String(""))
	assert.Equal(t, "b", Lookup(desc).Get("tags").Index(1).String(""))
	assert.False(t, Lookup(desc).Get("zones").Index(5).Present())

	assert.Equal(t, "4", Lookup(desc).Get("cores").String(""))
	assert.True(t, Lookup(desc).Get("enabled").Bool(false))
	assert.False(t, Lookup(desc).Get("cores").Get("x").Bool(false))
}

func TestLookupDefaults(t *testing.T) {
	v := Lookup(nil)
	assert.False(t, v.Present())
	assert.Equal(t, []string{}, v.Strings())
	assert.Equal(t, map[string]interface{}{}, v.Map())
	assert.Equal(t, []interface{}{}, v.Slice())
	assert.True(t, v.Bool(true))

	notAMap := Lookup("scalar")
	assert.False(t, notAMap.Get("x").Present())
	assert.Equal(t, map[string]interface{}{}, Lookup(42).Map())
}
