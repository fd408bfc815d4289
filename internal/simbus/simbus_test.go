package simbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-dxl/frame"
	"github.com/arloliu/go-dxl/serialport"
)

func newSim(t *testing.T, v frame.Version, opts ...Option) (*Sim, frame.Codec) {
	t.Helper()

	s, err := New(v, opts...)
	require.NoError(t, err)
	c, err := frame.New(v)
	require.NoError(t, err)

	return s, c
}

func readStatus(t *testing.T, s *Sim, c frame.Codec) frame.Status {
	t.Helper()

	header, err := s.ReadExact(c.HeaderLen(), time.Time{})
	require.NoError(t, err)
	n, err := c.BodyLen(header)
	require.NoError(t, err)
	body, err := s.ReadExact(n, time.Time{})
	require.NoError(t, err)
	st, err := c.DecodeStatus(append(header, body...))
	require.NoError(t, err)

	return st
}

func TestSim_PingAndRead(t *testing.T) {
	for _, v := range []frame.Version{frame.Protocol1, frame.Protocol2} {
		t.Run(v.String(), func(t *testing.T) {
			s, c := newSim(t, v)
			s.AddDevice(3, 29)

			require.NoError(t, s.Write(c.EncodeInstruction(3, frame.OpPing, nil)))
			st := readStatus(t, s, c)
			assert.Equal(t, byte(3), st.ID)
			assert.Zero(t, st.Error)

			require.NoError(t, s.Write(c.EncodeInstruction(3, frame.OpRead, c.ReadParams(0, 2))))
			st = readStatus(t, s, c)
			assert.Equal(t, []byte{29, 0}, st.Params)
			assert.Equal(t, 1, s.Pings(3))
		})
	}
}

func TestSim_AbsentDeviceTimesOut(t *testing.T) {
	s, c := newSim(t, frame.Protocol1)

	require.NoError(t, s.Write(c.EncodeInstruction(9, frame.OpPing, nil)))
	_, err := s.ReadExact(c.HeaderLen(), time.Time{})
	require.ErrorIs(t, err, serialport.ErrTimeout)
}

func TestSim_WriteAndMirror(t *testing.T) {
	s, c := newSim(t, frame.Protocol1)
	s.AddDevice(1, 12, WithMirror(36, 30, 2))

	require.NoError(t, s.Write(c.EncodeInstruction(1, frame.OpWrite, c.WriteParams(30, []byte{0x00, 0x02}))))
	st := readStatus(t, s, c)
	assert.Empty(t, st.Params)
	assert.Equal(t, []byte{0x00, 0x02}, s.Memory(1, 36, 2))
	assert.Equal(t, 1, s.Writes(1))
}

func TestSim_PingAfter(t *testing.T) {
	s, c := newSim(t, frame.Protocol1)
	s.AddDevice(5, 12, WithPingAfter(3))

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Write(c.EncodeInstruction(5, frame.OpPing, nil)))
		assert.Zero(t, s.Pending())
	}
	require.NoError(t, s.Write(c.EncodeInstruction(5, frame.OpPing, nil)))
	assert.NotZero(t, s.Pending())
}

func TestSim_BroadcastSpurious(t *testing.T) {
	s, c := newSim(t, frame.Protocol1, WithSpuriousReplies())
	s.AddDevice(1, 12)
	s.AddDevice(2, 12)

	require.NoError(t, s.Write(c.EncodeInstruction(frame.BroadcastID, frame.OpWrite, c.WriteParams(5, []byte{10}))))
	assert.Equal(t, []byte{10}, s.Memory(1, 5, 1))
	assert.Equal(t, []byte{10}, s.Memory(2, 5, 1))
	assert.Equal(t, 2*6, s.Pending())

	require.NoError(t, s.Flush())
	assert.Zero(t, s.Pending())
}

func TestSim_SyncWrite(t *testing.T) {
	s, c := newSim(t, frame.Protocol2)
	s.AddDevice(1, 1020)
	s.AddDevice(2, 1020)

	params := c.SyncWriteParams(116, 4, []frame.SyncEntry{
		{ID: 1, Data: []byte{0x00, 0x08, 0, 0}},
		{ID: 2, Data: []byte{0xFF, 0x0F, 0, 0}},
	})
	require.NoError(t, s.Write(c.EncodeInstruction(frame.BroadcastID, frame.OpSyncWrite, params)))
	assert.Zero(t, s.Pending())
	assert.Equal(t, []byte{0x00, 0x08, 0, 0}, s.Memory(1, 116, 4))
	assert.Equal(t, []byte{0xFF, 0x0F, 0, 0}, s.Memory(2, 116, 4))
}

func TestSim_CorruptReply(t *testing.T) {
	s, c := newSim(t, frame.Protocol1)
	s.AddDevice(4, 12, WithCorruptReplies(1))

	require.NoError(t, s.Write(c.EncodeInstruction(4, frame.OpPing, nil)))
	data, err := s.ReadExact(s.Pending(), time.Time{})
	require.NoError(t, err)
	_, err = c.DecodeStatus(data)
	require.ErrorIs(t, err, frame.ErrChecksum)

	require.NoError(t, s.Write(c.EncodeInstruction(4, frame.OpPing, nil)))
	st := readStatus(t, s, c)
	assert.Equal(t, byte(4), st.ID)
}
