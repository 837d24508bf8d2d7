// Copyright (c) Portbridge contributors. All rights reserved.

package relay

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const streamTestTimeout = 10 * time.Second

func TestStreamDataCopiesUntilEOF(t *testing.T) {
	t.Parallel()

	source := newTestReaderWriter(
		[]ioResult{{10, nil}, {7, nil}, {0, io.EOF}},
		nil,
	)
	dest := newTestReaderWriter(
		nil,
		[]ioResult{{10, nil}, {7, nil}},
	)

	result := StreamData(context.Background(), DefaultBufferSize, source, dest, streamTestTimeout, streamTestTimeout)

	require.Equal(t, int64(17), result.BytesRead)
	require.Equal(t, int64(17), result.BytesWritten)
	require.ErrorIs(t, result.ReadError, io.EOF)
	require.NoError(t, result.WriteError)
	require.True(t, result.Completed())
	require.False(t, result.LastSuccessfulWriteTimestamp.IsZero())
}

func TestStreamDataIgnoresReadDeadlineExpirations(t *testing.T) {
	t.Parallel()

	source := newTestReaderWriter(
		[]ioResult{{0, os.ErrDeadlineExceeded}, {5, nil}, {0, os.ErrDeadlineExceeded}, {0, io.EOF}},
		nil,
	)
	dest := newTestReaderWriter(
		nil,
		[]ioResult{{5, nil}},
	)

	result := StreamData(context.Background(), DefaultBufferSize, source, dest, streamTestTimeout, streamTestTimeout)

	require.Equal(t, int64(5), result.BytesRead)
	require.Equal(t, int64(5), result.BytesWritten)
	require.ErrorIs(t, result.ReadError, io.EOF)
	require.True(t, result.Completed())
}

func TestStreamDataRetriesTimedOutWrite(t *testing.T) {
	t.Parallel()

	source := newTestReaderWriter(
		[]ioResult{{10, nil}, {0, io.EOF}},
		nil,
	)
	dest := newTestReaderWriter(
		nil,
		[]ioResult{{4, os.ErrDeadlineExceeded}, {6, nil}},
	)

	result := StreamData(context.Background(), DefaultBufferSize, source, dest, streamTestTimeout, streamTestTimeout)

	require.Equal(t, int64(10), result.BytesRead)
	require.Equal(t, int64(10), result.BytesWritten)
	require.NoError(t, result.WriteError)
	require.True(t, result.Completed())
}

func TestStreamDataReportsRepeatedWriteTimeout(t *testing.T) {
	t.Parallel()

	source := newTestReaderWriter(
		[]ioResult{{10, nil}, {0, io.EOF}},
		nil,
	)
	dest := newTestReaderWriter(
		nil,
		[]ioResult{{4, os.ErrDeadlineExceeded}, {2, os.ErrDeadlineExceeded}},
	)

	result := StreamData(context.Background(), DefaultBufferSize, source, dest, streamTestTimeout, streamTestTimeout)

	require.ErrorIs(t, result.WriteError, os.ErrDeadlineExceeded)
	require.Equal(t, int64(6), result.BytesWritten)
	require.False(t, result.Completed())
	require.False(t, result.WriteErrorTimestamp.IsZero())
}

func TestStreamDataReportsShortWrite(t *testing.T) {
	t.Parallel()

	source := newTestReaderWriter(
		[]ioResult{{10, nil}},
		nil,
	)
	dest := newTestReaderWriter(
		nil,
		[]ioResult{{3, nil}},
	)

	result := StreamData(context.Background(), DefaultBufferSize, source, dest, streamTestTimeout, streamTestTimeout)

	require.ErrorIs(t, result.WriteError, io.ErrShortWrite)
	require.False(t, result.Completed())
}

func TestStreamDataStopsOnContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repeatingTimeout := errors.Join(testErrRepeatForever, os.ErrDeadlineExceeded)
	source := newTestReaderWriter(
		[]ioResult{{0, repeatingTimeout}},
		nil,
	)
	dest := newTestReaderWriter(nil, nil)

	result := StreamData(ctx, DefaultBufferSize, source, dest, streamTestTimeout, streamTestTimeout)

	require.ErrorIs(t, result.ReadError, context.Canceled)
	require.Zero(t, result.BytesWritten)
	require.True(t, result.Completed())
}

func TestStreamDataReportsInconsistentWrite(t *testing.T) {
	t.Parallel()

	source := newTestReaderWriter(
		[]ioResult{{5, nil}},
		nil,
	)
	dest := newTestReaderWriter(
		nil,
		[]ioResult{{7, nil}},
	)

	result := StreamData(context.Background(), DefaultBufferSize, source, dest, streamTestTimeout, streamTestTimeout)

	require.ErrorIs(t, result.WriteError, ErrInconsistentWrite)
	require.False(t, result.Completed())
}
