package runid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_IsDeterministic(t *testing.T) {
	a := New("coord-1", "orders_flow", "orders", "2026-07-31T00:00:00Z")
	b := New("coord-1", "orders_flow", "orders", "2026-07-31T00:00:00Z")
	assert.Equal(t, a, b)
}

func TestNew_Length(t *testing.T) {
	id := New("coord-1", "orders_flow", "orders", "2026-07-31T00:00:00Z")
	assert.Len(t, id, length)
}

func TestNew_DiffersByAnyComponent(t *testing.T) {
	base := New("coord-1", "orders_flow", "orders", "2026-07-31T00:00:00Z")

	variants := []string{
		New("coord-2", "orders_flow", "orders", "2026-07-31T00:00:00Z"),
		New("coord-1", "customers_flow", "orders", "2026-07-31T00:00:00Z"),
		New("coord-1", "orders_flow", "customers", "2026-07-31T00:00:00Z"),
		New("coord-1", "orders_flow", "orders", "2026-07-31T00:00:01Z"),
	}
	for _, v := range variants {
		assert.NotEqual(t, base, v)
	}
}

func TestNew_IsHexEncoded(t *testing.T) {
	id := New("coord-1", "orders_flow", "orders", "2026-07-31T00:00:00Z")
	for _, r := range id {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected rune %q", r)
	}
}

func TestCoordinatorFlowEntity_HashTheirOwnComponentListsAndDiffer(t *testing.T) {
	coordID := Coordinator("coord-1", "2026-07-31T00:00:00Z")
	flowID := Flow("coord-1", "orders_flow", "2026-07-31T00:00:00Z")
	entityID := Entity("coord-1", "orders_flow", "orders", "2026-07-31T00:00:00Z")

	assert.Equal(t, New("coord-1", "2026-07-31T00:00:00Z"), coordID)
	assert.Equal(t, New("coord-1", "orders_flow", "2026-07-31T00:00:00Z"), flowID)
	assert.Equal(t, New("coord-1", "orders_flow", "orders", "2026-07-31T00:00:00Z"), entityID)

	assert.NotEqual(t, coordID, flowID)
	assert.NotEqual(t, flowID, entityID)
}
