// Package watch provides recursive directory watching with rename tracking
// for programs that embed synowatch.
//
// A single inotify watch only covers one directory. This package keeps one
// watch per directory below each root, adds watches as directories appear,
// drops them as directories disappear, and follows renamed and moved
// directories without rescanning them.

// Watch Functionality
//
//	// Basic usage
//	backend, err := watch.NewBackend()
//	if err != nil {
//		return err
//	}
//	roots := []watch.Root{{Path: "/volume1/music", Mask: watch.DefaultMask, Filter: watch.DefaultFilter()}}
//	err = watch.Watch(ctx, backend, roots, func(ev watch.Event) error {
//		fmt.Println(ev)
//		return nil
//	})
//
//	// Only creations and renames
//	mask, err := watch.MaskOf([]string{"created", "renamed"})
//
//	// Custom excludes
//	filter, err := watch.NewFilter(watch.FilterOptions{
//		ExcludePrefixes: []string{".", "@"},
//		Exclude:         []string{"*.part"},
//	})
//
//	// Driving the tree directly
//	t, err := watch.Open(backend, roots)
//	defer t.Close()
//	for {
//		events, err := t.Read()
//		...
//	}

package watch
