package server

import (
	"testing"
	"time"

	"github.com/Tyrowin/bboard/internal/board"
	"github.com/Tyrowin/bboard/internal/board/mocks"
	"github.com/Tyrowin/bboard/internal/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestBroadcaster_Broadcast(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := board.NewRegistry()
	broadcaster := NewBroadcaster(registry, testLogger())

	alice := mocks.NewMockDeliverer(ctrl)
	bob := mocks.NewMockDeliverer(ctrl)
	carol := mocks.NewMockDeliverer(ctrl)
	for name, out := range map[string]*mocks.MockDeliverer{"alice": alice, "bob": bob, "carol": carol} {
		req.NoError(registry.SetUsername(registry.Register(out), name))
	}

	frame := []byte(`{"type":"event","event":"user_joined","group":"group1","user":"carol"}`)

	// Given alice and bob accept the event and carol is excluded
	alice.EXPECT().Deliver(frame).Return(true).Times(1)
	bob.EXPECT().Deliver(frame).Return(true).Times(1)
	carol.EXPECT().Deliver(gomock.Any()).Times(0)

	// When the event is broadcast to the group
	delivered := broadcaster.Broadcast("group1", []string{"alice", "bob", "carol", "gone"},
		protocol.NewUserJoined("group1", "carol"), "carol")

	// Then every other live member got it
	req.Equal(2, delivered)
}

func TestBroadcaster_FailedDeliveryDoesNotStopOthers(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := board.NewRegistry()
	broadcaster := NewBroadcaster(registry, testLogger())

	slow := mocks.NewMockDeliverer(ctrl)
	fast := mocks.NewMockDeliverer(ctrl)
	req.NoError(registry.SetUsername(registry.Register(slow), "slow"))
	req.NoError(registry.SetUsername(registry.Register(fast), "fast"))

	slow.EXPECT().Deliver(gomock.Any()).Return(false).Times(1)
	fast.EXPECT().Deliver(gomock.Any()).Return(true).Times(1)

	req.Equal(1, broadcaster.Broadcast("group1", []string{"fast", "slow"}, map[string]string{"x": "y"}, ""))
}

func TestBroadcaster_PublishEchoesPostsToThePoster(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	registry := board.NewRegistry()
	broadcaster := NewBroadcaster(registry, testLogger())

	alice := mocks.NewMockDeliverer(ctrl)
	bob := mocks.NewMockDeliverer(ctrl)
	req.NoError(registry.SetUsername(registry.Register(alice), "alice"))
	req.NoError(registry.SetUsername(registry.Register(bob), "bob"))

	posted := `{"type":"event","event":"new_message","group":"group1","id":7,"sender":"alice","subject":"Hi","date":"2026-10-18T09:30:00"}`
	left := `{"type":"event","event":"user_left","group":"group1","user":"alice"}`

	gomock.InOrder(
		alice.EXPECT().Deliver([]byte(posted)).Return(true),
		bob.EXPECT().Deliver([]byte(posted)).Return(true),
		bob.EXPECT().Deliver([]byte(left)).Return(true),
	)

	broadcaster.Publish(board.Commit{
		Kind:  board.Posted,
		Group: "group1",
		User:  "alice",
		Message: board.Message{
			ID: 7, Sender: "alice", Group: "group1", Subject: "Hi", Body: "Hello",
			CreatedAt: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
		},
		Members: []string{"alice", "bob"},
	})
	broadcaster.Publish(board.Commit{Kind: board.Left, Group: "group1", User: "alice", Members: []string{"bob"}})
}
