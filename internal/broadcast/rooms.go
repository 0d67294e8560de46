package broadcast

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/pscheid92/staffpulse/internal/domain"
)

type ensureRoomCmd struct {
	baseCommand
	key            string
	roomType       domain.RoomType
	organizationID string
	reply          chan<- domain.Room
}

type listRoomsCmd struct {
	baseCommand
	reply chan<- []domain.Room
}

type sweepCmd struct {
	baseCommand
	reply chan<- int
}

// EnsureRoom creates the directory entry for key if it is missing and returns it.
// An existing room keeps its original metadata.
func (s *Service) EnsureRoom(ctx context.Context, key string, roomType domain.RoomType, organizationID string) (domain.Room, error) {
	return request(ctx, s, func(reply chan<- domain.Room) command {
		return ensureRoomCmd{key: key, roomType: roomType, organizationID: organizationID, reply: reply}
	})
}

// ListRooms returns every room sorted by key, with current member counts.
func (s *Service) ListRooms(ctx context.Context) ([]domain.Room, error) {
	return request(ctx, s, func(reply chan<- []domain.Room) command {
		return listRoomsCmd{reply: reply}
	})
}

// SweepEmpty removes rooms without members and reports how many were removed.
// The same sweep runs on the housekeeping interval.
func (s *Service) SweepEmpty(ctx context.Context) (int, error) {
	return request(ctx, s, func(reply chan<- int) command {
		return sweepCmd{reply: reply}
	})
}

func (s *Service) ensureRoom(key string, roomType domain.RoomType, organizationID string) domain.Room {
	entry, ok := s.rooms[key]
	if !ok {
		entry = &roomEntry{
			key:            key,
			roomType:       roomType,
			organizationID: organizationID,
			createdAt:      s.clock.Now().UTC(),
		}
		s.rooms[key] = entry
		s.metrics.Rooms.Set(float64(len(s.rooms)))
		slog.Debug("Room created", "room", key, "type", roomType)
	}
	return s.roomSnapshot(entry)
}

// join adds cl to room key. Both sides of the membership are updated together.
func (s *Service) join(cl *client, key string) {
	members, ok := s.membership[key]
	if !ok {
		members = make(map[string]struct{})
		s.membership[key] = members
	}
	members[cl.info.ID] = struct{}{}
	cl.rooms[key] = struct{}{}
}

// leave removes cl from room key. The directory entry stays until the next sweep.
func (s *Service) leave(cl *client, key string) {
	delete(cl.rooms, key)
	members, ok := s.membership[key]
	if !ok {
		return
	}
	delete(members, cl.info.ID)
	if len(members) == 0 {
		delete(s.membership, key)
	}
}

func (s *Service) sweepEmpty() int {
	swept := 0
	for key := range s.rooms {
		if len(s.membership[key]) == 0 {
			delete(s.rooms, key)
			swept++
		}
	}
	if swept > 0 {
		s.metrics.RoomsSweptTotal.Add(float64(swept))
		s.metrics.Rooms.Set(float64(len(s.rooms)))
	}
	return swept
}

func (s *Service) handleListRooms() []domain.Room {
	rooms := make([]domain.Room, 0, len(s.rooms))
	for _, entry := range s.rooms {
		rooms = append(rooms, s.roomSnapshot(entry))
	}
	slices.SortFunc(rooms, func(a, b domain.Room) int { return cmp.Compare(a.Key, b.Key) })
	return rooms
}

func (s *Service) roomSnapshot(entry *roomEntry) domain.Room {
	return domain.Room{
		Key:            entry.key,
		Type:           entry.roomType,
		OrganizationID: entry.organizationID,
		CreatedAt:      entry.createdAt,
		Members:        len(s.membership[entry.key]),
	}
}
