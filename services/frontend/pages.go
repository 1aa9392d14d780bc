package frontend

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

func page(title, body, script string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1"/>
<title>`+title+` | NoteDesk</title>
<link rel="stylesheet" href="/static/styles.css"/>
</head>
<body>
`+body+`
<script>
const api = (path, opts = {}) => {
  opts.headers = Object.assign({'Content-Type': 'application/json'}, opts.headers || {});
  const token = localStorage.getItem('access_token');
  if (token) { opts.headers['Authorization'] = 'Bearer ' + token; }
  return fetch('/api/v1' + path, opts).then(async (res) => {
    if (res.status === 401 && !path.startsWith('/auth/')) {
      window.location.href = '/login';
      return Promise.reject(new Error('unauthorized'));
    }
    const text = await res.text();
    const data = text ? JSON.parse(text) : null;
    if (!res.ok) {
      const err = new Error((data && data.error) || res.statusText);
      err.field = data && data.field;
      throw err;
    }
    return data;
  });
};
const esc = (s) => String(s ?? '').replace(/[&<>"']/g, (c) => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'}[c]));
`+script+`
</script>
</body>
</html>
`)
		return err
	})
}

const topbarHTML = `<header class="topbar">
  <span class="brand">NoteDesk</span>
  <nav>
    <a href="/todos">Todos</a>
    <a href="/notes">Notes</a>
    <a href="#" id="logout-link">Log out</a>
  </nav>
</header>`

const topbarScript = `
document.getElementById('logout-link').addEventListener('click', async (e) => {
  e.preventDefault();
  const refresh = localStorage.getItem('refresh_token');
  if (refresh) {
    try { await api('/auth/logout', {method: 'POST', body: JSON.stringify({refresh_token: refresh})}); } catch {}
  }
  localStorage.removeItem('access_token');
  localStorage.removeItem('refresh_token');
  window.location.href = '/login';
});
`

// LoginPage serves both sign-in and registration.
func LoginPage() templ.Component {
	body := `<main class="auth-wrap">
  <div class="card">
    <h2>Sign in to NoteDesk</h2>
    <form class="stack" id="auth-form">
      <div><label for="username">Username</label><input id="username" autocomplete="username" required/></div>
      <div><label for="password">Password</label><input id="password" type="password" autocomplete="current-password" required/></div>
      <div class="error" id="auth-error"></div>
      <button type="submit">Sign in</button>
      <button type="button" class="ghost" id="register-btn">Create account</button>
    </form>
  </div>
</main>`

	script := `
const authError = document.getElementById('auth-error');
const submitAuth = async (path) => {
  authError.textContent = '';
  try {
    const data = await api('/auth/' + path, {method: 'POST', body: JSON.stringify({
      username: document.getElementById('username').value,
      password: document.getElementById('password').value,
    })});
    localStorage.setItem('access_token', data.access_token);
    localStorage.setItem('refresh_token', data.refresh_token);
    window.location.href = '/todos';
  } catch (err) {
    authError.textContent = err.message;
  }
};
document.getElementById('auth-form').addEventListener('submit', (e) => { e.preventDefault(); submitAuth('login'); });
document.getElementById('register-btn').addEventListener('click', () => submitAuth('register'));
`
	return page("Sign in", body, script)
}

// NotesPage lists, searches and edits the user's notes.
func NotesPage() templ.Component {
	body := topbarHTML + `
<main>
  <div class="card">
    <h2>New note</h2>
    <form class="stack" id="note-form">
      <div><label for="note-title">Title</label><input id="note-title" maxlength="255"/></div>
      <div><label for="note-content">Content</label><textarea id="note-content"></textarea></div>
      <div class="error" id="note-error"></div>
      <button type="submit">Save note</button>
    </form>
  </div>
  <div class="card">
    <form class="row" id="search-form">
      <div class="grow"><label for="search">Search title and content</label><input id="search"/></div>
      <button type="submit" class="ghost">Search</button>
    </form>
    <ul class="items" id="notes-list"></ul>
  </div>
</main>`

	script := topbarScript + `
const noteError = document.getElementById('note-error');
const notesList = document.getElementById('notes-list');

const loadNotes = async () => {
  const q = encodeURIComponent(document.getElementById('search').value.trim());
  const data = await api('/notes' + (q ? '?search=' + q : ''));
  notesList.innerHTML = '';
  for (const note of data.notes) {
    const li = document.createElement('li');
    li.innerHTML = '<div class="grow"><div class="title">' + (esc(note.title) || '<em>Untitled</em>') + '</div>' +
      '<div class="meta">' + esc(note.content) + '</div></div>' +
      '<button class="danger" data-id="' + esc(note.id) + '">Delete</button>';
    li.querySelector('button').addEventListener('click', async (e) => {
      await api('/notes/' + e.currentTarget.dataset.id, {method: 'DELETE'});
      loadNotes();
    });
    notesList.appendChild(li);
  }
};

document.getElementById('note-form').addEventListener('submit', async (e) => {
  e.preventDefault();
  noteError.textContent = '';
  try {
    await api('/notes', {method: 'POST', body: JSON.stringify({
      title: document.getElementById('note-title').value,
      content: document.getElementById('note-content').value,
    })});
    document.getElementById('note-title').value = '';
    document.getElementById('note-content').value = '';
    loadNotes();
  } catch (err) {
    noteError.textContent = err.message;
  }
});
document.getElementById('search-form').addEventListener('submit', (e) => { e.preventDefault(); loadNotes(); });
loadNotes();
`
	return page("Notes", body, script)
}

// TodosPage shows active and completed todos, the create form and the
// live activity feed.
func TodosPage() templ.Component {
	body := topbarHTML + `
<main>
  <div class="card">
    <h2>New todo</h2>
    <form class="row" id="todo-form">
      <div class="grow"><label for="todo-title">Title</label><input id="todo-title" maxlength="255" required/></div>
      <div><label for="todo-due">Due date</label><input id="todo-due" type="date"/></div>
      <div><label for="todo-recurrence">Repeats</label>
        <select id="todo-recurrence">
          <option value="">Never</option>
          <option value="daily">Daily</option>
          <option value="weekly">Weekly</option>
          <option value="monthly">Monthly</option>
          <option value="yearly">Yearly</option>
        </select>
      </div>
      <button type="submit">Add</button>
    </form>
    <div class="error" id="todo-error"></div>
  </div>
  <div class="card">
    <form class="row" id="search-form">
      <div class="grow"><label for="search">Search todos</label><input id="search"/></div>
      <button type="submit" class="ghost">Search</button>
    </form>
    <h2>Active</h2>
    <ul class="items" id="active-list"></ul>
    <h2>Completed</h2>
    <ul class="items" id="completed-list"></ul>
  </div>
  <div class="card">
    <h2>Activity</h2>
    <ul class="items" id="activity-feed"></ul>
  </div>
</main>`

	script := topbarScript + `
const todoError = document.getElementById('todo-error');

const renderTodo = (todo) => {
  const li = document.createElement('li');
  if (todo.is_completed) { li.className = 'completed'; }
  let badges = '';
  if (todo.due_date) { badges += '<span class="badge">due ' + esc(todo.due_date) + '</span> '; }
  if (todo.recurrence) { badges += '<span class="badge recurring">' + esc(todo.recurrence) + '</span> '; }
  if (todo.is_completed) { badges += '<span class="badge done">done</span>'; }
  li.innerHTML = '<input type="checkbox"' + (todo.is_completed ? ' checked' : '') + '/>' +
    '<div class="grow"><div class="title">' + esc(todo.title) + '</div>' +
    '<div class="meta">' + badges + '</div></div>' +
    '<button class="danger" data-id="' + esc(todo.id) + '">Delete</button>';
  li.querySelector('input').addEventListener('change', async () => {
    await api('/todos/' + todo.id + '/toggle', {method: 'POST'});
    loadTodos();
  });
  li.querySelector('button').addEventListener('click', async (e) => {
    await api('/todos/' + e.currentTarget.dataset.id, {method: 'DELETE'});
    loadTodos();
  });
  return li;
};

const loadTodos = async () => {
  const q = encodeURIComponent(document.getElementById('search').value.trim());
  const data = await api('/todos' + (q ? '?search=' + q : ''));
  const active = document.getElementById('active-list');
  const completed = document.getElementById('completed-list');
  active.innerHTML = '';
  completed.innerHTML = '';
  for (const todo of data.active) { active.appendChild(renderTodo(todo)); }
  for (const todo of data.completed) { completed.appendChild(renderTodo(todo)); }
};

document.getElementById('todo-form').addEventListener('submit', async (e) => {
  e.preventDefault();
  todoError.textContent = '';
  try {
    await api('/todos', {method: 'POST', body: JSON.stringify({
      title: document.getElementById('todo-title').value,
      due_date: document.getElementById('todo-due').value,
      recurrence: document.getElementById('todo-recurrence').value,
    })});
    document.getElementById('todo-title').value = '';
    loadTodos();
  } catch (err) {
    todoError.textContent = err.message;
  }
});
document.getElementById('search-form').addEventListener('submit', (e) => { e.preventDefault(); loadTodos(); });

const feed = document.getElementById('activity-feed');
const appendActivity = (text) => {
  const li = document.createElement('li');
  li.textContent = text;
  feed.prepend(li);
  while (feed.children.length > 50) { feed.removeChild(feed.lastChild); }
};

api('/activity').then((data) => {
  for (const entry of (data.activity || []).reverse()) {
    appendActivity(entry.actor_name + ' ' + entry.action + ' ' + (entry.title || entry.entity_type));
  }
}).catch(() => {});

const token = localStorage.getItem('access_token');
if (token) {
  const events = new EventSource('/api/v1/events?token=' + encodeURIComponent(token));
  events.addEventListener('activity', (e) => {
    try {
      const ev = JSON.parse(e.data);
      appendActivity(ev.actor_name + ' ' + ev.action + ' ' + (ev.title || ev.entity_type));
      loadTodos();
    } catch {}
  });
}

loadTodos();
`
	return page("Todos", body, script)
}
