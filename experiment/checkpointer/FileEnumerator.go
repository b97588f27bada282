package checkpointer

import "fmt"

// fileEnumerator enumerates filenames
type fileEnumerator struct {
	i         int
	name      string
	separator string
}

// filename returns the name of the next consecutive enumerated file
func (f *fileEnumerator) filename() string {
	f.i++
	return fmt.Sprintf("%v%v%v", f.name, f.separator, f.i)
}

// FilenameEnumerator returns a function which will return filenames
// with a counter integer suffix joined to name by separator. Each time
// the returned function is called the counter is one higher than on
// the previous call, so that FilenameEnumerator(0, "TD3", "_") produces
// TD3_1, TD3_2, and so on.
func FilenameEnumerator(start int, name, separator string) func() string {
	enum := fileEnumerator{i: start, name: name, separator: separator}

	return enum.filename
}
